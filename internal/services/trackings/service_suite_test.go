package trackings

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/BearBump/KuaidiBox/internal/broker/messages"
	cachemocks "github.com/BearBump/KuaidiBox/internal/cache/mocks"
	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/BearBump/KuaidiBox/internal/storage/pgtracking"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"

	trackingsmocks "github.com/BearBump/KuaidiBox/internal/services/trackings/mocks"
)

type ServiceSuite struct {
	suite.Suite

	repo  *trackingsmocks.MockRepository
	cache *cachemocks.MockBytesCache
	svc   *Service
}

func (s *ServiceSuite) SetupTest() {
	s.repo = &trackingsmocks.MockRepository{}
	s.cache = &cachemocks.MockBytesCache{}
	s.svc = New(s.repo, s.cache, 10*time.Minute)
}

func okMessage(id string) messages.ShipmentUpdated {
	return messages.ShipmentUpdated{
		ShipmentID:        id,
		TrackingNumber:    "SF1",
		DisplayName:       "Parcel",
		PollIntervalHours: 12,
		CheckedAt:         time.Date(2025, 5, 1, 8, 0, 0, 0, time.UTC),
		Label:             "在途中",
		Snapshot:          &models.TrackingSnapshot{StatusCode: 2},
	}
}

func (s *ServiceSuite) TestGetShipmentsByIDs_CacheHit_NoDB() {
	sh := &models.Shipment{ID: "a", TrackingNumber: "SF1", Label: "在途中"}
	b, _ := json.Marshal(sh)
	s.cache.On("Get", mock.Anything, "shipment:a:current").Return(b, true, nil).Once()

	out, err := s.svc.GetShipmentsByIDs(context.Background(), []string{"a"})
	s.Require().NoError(err)
	s.Require().Len(out, 1)
	s.Equal("SF1", out[0].TrackingNumber)
	s.repo.AssertNotCalled(s.T(), "GetShipmentsByIDs", mock.Anything, mock.Anything)
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetShipmentsByIDs_EmptyAndTooMany() {
	out, err := s.svc.GetShipmentsByIDs(context.Background(), nil)
	s.Require().NoError(err)
	s.Empty(out)

	_, err = s.svc.GetShipmentsByIDs(context.Background(), make([]string, maxIDsPerRequest+1))
	s.Require().Error(err)
	s.repo.AssertNotCalled(s.T(), "GetShipmentsByIDs", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestGetShipmentsByIDs_CacheDisabled_GoesToDB() {
	svc := New(s.repo, s.cache, 0)
	s.repo.On("GetShipmentsByIDs", mock.Anything, []string{"a", "b"}).
		Return([]*models.Shipment{{ID: "a"}, {ID: "b"}}, nil).
		Once()

	out, err := svc.GetShipmentsByIDs(context.Background(), []string{"a", "b"})
	s.Require().NoError(err)
	s.Len(out, 2)
	s.cache.AssertNotCalled(s.T(), "Get", mock.Anything, mock.Anything)
	s.cache.AssertNotCalled(s.T(), "Set", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetShipmentsByIDs_MissesFillCache_OrderPreserved() {
	s.cache.On("Get", mock.Anything, "shipment:b:current").Return(nil, false, nil).Once()
	s.cache.On("Get", mock.Anything, "shipment:a:current").Return(nil, false, errors.New("redis down")).Once()
	s.cache.On("Get", mock.Anything, "shipment:x:current").Return([]byte("not-json"), true, nil).Once()

	s.repo.On("GetShipmentsByIDs", mock.Anything, []string{"b", "a", "x"}).
		Return([]*models.Shipment{{ID: "a"}, {ID: "b"}}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "shipment:a:current", mock.Anything, 10*time.Minute).Return(errors.New("set failed")).Once()
	s.cache.On("Set", mock.Anything, "shipment:b:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	out, err := s.svc.GetShipmentsByIDs(context.Background(), []string{"b", "a", "x"})
	s.Require().NoError(err)
	s.Require().Len(out, 2)
	s.Equal("b", out[0].ID)
	s.Equal("a", out[1].ID)
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestGetShipmentsByIDs_DBError() {
	s.cache.On("Get", mock.Anything, "shipment:a:current").Return(nil, false, nil).Once()
	want := errors.New("db error")
	s.repo.On("GetShipmentsByIDs", mock.Anything, []string{"a"}).Return(nil, want).Once()

	_, err := s.svc.GetShipmentsByIDs(context.Background(), []string{"a"})
	s.Require().ErrorIs(err, want)
}

func (s *ServiceSuite) TestListShipments_Passthrough() {
	s.repo.On("ListShipments", mock.Anything, 50, 10).Return([]*models.Shipment{{ID: "a"}}, nil).Once()
	out, err := s.svc.ListShipments(context.Background(), 50, 10)
	s.Require().NoError(err)
	s.Len(out, 1)
	s.repo.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyUpdate_SuccessRefreshesCache() {
	msg := okMessage("a")
	s.repo.On("ApplyShipmentUpdate", mock.Anything, mock.MatchedBy(func(upd pgtracking.ShipmentUpdate) bool {
		return upd.ShipmentID == "a" &&
			upd.Label == "在途中" &&
			upd.Snapshot != nil && upd.Snapshot.StatusCode == 2 &&
			upd.Error == nil &&
			upd.CheckedAt.Equal(msg.CheckedAt)
	})).Return(nil).Once()
	s.repo.On("GetShipmentsByIDs", mock.Anything, []string{"a"}).
		Return([]*models.Shipment{{ID: "a", Label: "在途中"}}, nil).
		Once()
	s.cache.On("Set", mock.Anything, "shipment:a:current", mock.Anything, 10*time.Minute).Return(nil).Once()

	s.Require().NoError(s.svc.ApplyUpdate(context.Background(), msg))
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyUpdate_FailureDefaultsAndReloadError() {
	e := "vendor error 401: invalid key"
	now := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	s.svc.now = func() time.Time { return now }

	s.repo.On("ApplyShipmentUpdate", mock.Anything, mock.MatchedBy(func(upd pgtracking.ShipmentUpdate) bool {
		return upd.Snapshot == nil &&
			upd.Error != nil && *upd.Error == e &&
			upd.CheckedAt.Equal(now) &&
			upd.PollIntervalHours == models.DefaultPollIntervalHours &&
			upd.DisplayName == "SF1"
	})).Return(nil).Once()
	s.repo.On("GetShipmentsByIDs", mock.Anything, []string{"a"}).Return(nil, errors.New("reload fail")).Once()
	s.cache.On("Del", mock.Anything, []string{"shipment:a:current"}).Return(nil).Once()

	s.Require().NoError(s.svc.ApplyUpdate(context.Background(), messages.ShipmentUpdated{
		ShipmentID:     "a",
		TrackingNumber: "SF1",
		Error:          &e,
	}))
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
}

func (s *ServiceSuite) TestApplyUpdate_Validation() {
	for _, msg := range []messages.ShipmentUpdated{
		{},
		{ShipmentID: "a"},
		{ShipmentID: "a", TrackingNumber: "SF1"},
	} {
		s.Require().ErrorIs(s.svc.ApplyUpdate(context.Background(), msg), ErrInvalidUpdate)
	}
	s.repo.AssertNotCalled(s.T(), "ApplyShipmentUpdate", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyUpdate_RepoErrorStops() {
	want := errors.New("apply failed")
	s.repo.On("ApplyShipmentUpdate", mock.Anything, mock.Anything).Return(want).Once()

	err := s.svc.ApplyUpdate(context.Background(), okMessage("a"))
	s.Require().ErrorIs(err, want)
	s.repo.AssertNotCalled(s.T(), "GetShipmentsByIDs", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyUpdate_NoCache_NoReload() {
	svc := New(s.repo, nil, 0)
	s.repo.On("ApplyShipmentUpdate", mock.Anything, mock.Anything).Return(nil).Once()

	s.Require().NoError(svc.ApplyUpdate(context.Background(), okMessage("a")))
	s.repo.AssertNotCalled(s.T(), "GetShipmentsByIDs", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyUpdate_RemovedDeletesRowAndCache() {
	msg := okMessage("a")
	msg.Snapshot = nil
	msg.Removed = true
	s.repo.On("DeleteShipment", mock.Anything, "a", msg.CheckedAt).Return(nil).Once()
	s.cache.On("Del", mock.Anything, []string{"shipment:a:current"}).Return(nil).Once()

	s.Require().NoError(s.svc.ApplyUpdate(context.Background(), msg))
	s.repo.AssertExpectations(s.T())
	s.cache.AssertExpectations(s.T())
	s.repo.AssertNotCalled(s.T(), "ApplyShipmentUpdate", mock.Anything, mock.Anything)
}

func (s *ServiceSuite) TestApplyUpdate_RemovedRepoErrorRetried() {
	msg := messages.ShipmentUpdated{ShipmentID: "a", TrackingNumber: "SF1", Removed: true}
	want := errors.New("pg down")
	s.repo.On("DeleteShipment", mock.Anything, "a", mock.Anything).Return(want).Once()

	err := s.svc.ApplyUpdate(context.Background(), msg)
	s.Require().ErrorIs(err, want)
	s.Require().NotErrorIs(err, ErrInvalidUpdate)
	s.cache.AssertNotCalled(s.T(), "Del", mock.Anything, mock.Anything)
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}
