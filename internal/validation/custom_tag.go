package validation

import (
	"regexp"

	"github.com/go-playground/validator/v10"
)

var idRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

func init() {
	MustRegisterGin("spaceid", ValidateID)
	MustRegisterGin("channelid", ValidateID)
	MustRegisterGinAlias("devicekind", "oneof=audioinput audiooutput videoinput")
	MustRegisterGinAlias("deviceid", "printascii,min=1,max=128")
}

// ValidateID validates space and channel ID format: 3-64 characters, alphanumeric with hyphens and underscores
func ValidateID(fl validator.FieldLevel) bool {
	return idRegex.MatchString(fl.Field().String())
}
