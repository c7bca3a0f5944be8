package devices

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/imtaco/voice-client-exp/internal/errors"
	"github.com/imtaco/voice-client-exp/internal/log"
)

type stubEnumerator struct {
	mu      sync.Mutex
	devices []Info
	err     error
}

func (s *stubEnumerator) Enumerate() ([]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return append([]Info(nil), s.devices...), nil
}

func (s *stubEnumerator) set(devices []Info) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.devices = devices
}

type memStore struct {
	mu    sync.Mutex
	data  map[Kind]string
	saves int
}

func newMemStore() *memStore {
	return &memStore{data: map[Kind]string{}}
}

func (m *memStore) Load(_ context.Context) (map[Kind]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[Kind]string{}
	for k, v := range m.data {
		out[k] = v
	}
	return out, nil
}

func (m *memStore) Save(_ context.Context, kind Kind, deviceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[kind] = deviceID
	m.saves++
	return nil
}

type RegistrySuite struct {
	suite.Suite

	enum  *stubEnumerator
	store *memStore
	reg   *Registry
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.enum = &stubEnumerator{devices: []Info{
		{ID: "mic-1", Label: "Built-in Mic", Kind: KindAudioInput, Default: true},
		{ID: "mic-2", Label: "USB Mic", Kind: KindAudioInput},
		{ID: "spk-1", Label: "Speakers", Kind: KindAudioOutput, Default: true},
		{ID: "", Label: "ghost", Kind: KindAudioInput},
	}}
	s.store = newMemStore()
	s.reg = NewRegistry(s.enum, s.store, log.NewTest(s.T()))
}

func (s *RegistrySuite) TestRefreshFiltersBlankIDsAndAutoSelectsDefault() {
	s.Require().NoError(s.reg.Refresh(context.Background()))

	s.Len(s.reg.List(KindAudioInput), 2)
	s.Equal("mic-1", s.reg.Selected(KindAudioInput))
	s.Equal("spk-1", s.reg.Selected(KindAudioOutput))
	s.Empty(s.reg.Selected(KindVideoInput))
}

func (s *RegistrySuite) TestAutoSelectDoesNotPersist() {
	s.Require().NoError(s.reg.Refresh(context.Background()))
	s.Equal(0, s.store.saves)
}

func (s *RegistrySuite) TestSelectValidatesAndPersists() {
	s.Require().NoError(s.reg.Refresh(context.Background()))

	s.Require().NoError(s.reg.Select(context.Background(), KindAudioInput, "mic-2"))
	s.Equal("mic-2", s.reg.Selected(KindAudioInput))
	s.Equal("mic-2", s.store.data[KindAudioInput])

	err := s.reg.Select(context.Background(), KindAudioInput, "mic-9")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrUnknownDevice))
	s.Equal("mic-2", s.reg.Selected(KindAudioInput))
}

func (s *RegistrySuite) TestSelectRejectsUnknownKind() {
	err := s.reg.Select(context.Background(), Kind("midi"), "x")
	s.Require().Error(err)
	s.True(errors.Is(err, ErrUnknownKind))
}

func (s *RegistrySuite) TestLoadRestoresPersistedSelectionOverDefault() {
	s.store.data[KindAudioInput] = "mic-2"

	s.Require().NoError(s.reg.Load(context.Background()))
	s.Require().NoError(s.reg.Refresh(context.Background()))

	s.Equal("mic-2", s.reg.Selected(KindAudioInput))
}

func (s *RegistrySuite) TestSelectionSurvivesDeviceUnplug() {
	s.Require().NoError(s.reg.Refresh(context.Background()))
	s.Require().NoError(s.reg.Select(context.Background(), KindAudioInput, "mic-2"))

	s.enum.set([]Info{
		{ID: "mic-1", Label: "Built-in Mic", Kind: KindAudioInput, Default: true},
	})
	s.Require().NoError(s.reg.Refresh(context.Background()))

	s.Equal("mic-2", s.reg.Selected(KindAudioInput))
	s.Len(s.reg.List(KindAudioInput), 1)
}

func (s *RegistrySuite) TestFirstDeviceIsDefaultWhenNoneMarked() {
	s.enum.set([]Info{
		{ID: "cam-1", Kind: KindVideoInput},
		{ID: "cam-2", Kind: KindVideoInput},
	})
	s.Require().NoError(s.reg.Refresh(context.Background()))
	s.Equal("cam-1", s.reg.Selected(KindVideoInput))
}
