package projection

import (
	"testing"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

type ProjectionSuite struct {
	suite.Suite
}

func (s *ProjectionSuite) TestLabel_Table() {
	want := []string{
		"无记录", "揽件", "在途中", "派送中", "已签收", "用户拒签", "疑难件",
		"无效单", "超时单", "签收失败", "退回", "转投", "待签",
	}
	for code, label := range want {
		s.Equal(label, Label(code), "code %d", code)
	}
}

func (s *ProjectionSuite) TestLabel_Unknown() {
	for _, code := range []int{-1, 13, 99, 200} {
		s.Equal(UnknownLabel, Label(code))
	}
}

func (s *ProjectionSuite) TestProject_DeliveredOnlyForFour() {
	for code := -1; code <= 14; code++ {
		p := Project(models.TrackingSnapshot{StatusCode: code})
		s.Equal(code == 4, p.Delivered, "code %d", code)
		s.Equal(Label(code), p.Label)
	}
}

func (s *ProjectionSuite) TestProject_Idempotent() {
	snap := models.TrackingSnapshot{StatusCode: 2}
	s.Equal(Project(snap), Project(snap))
}

func (s *ProjectionSuite) TestIcon() {
	s.Equal(IconDelivered, Icon(4))
	s.Equal(IconInTransit, Icon(2))
	s.Equal(IconInTransit, Icon(3))
	s.Equal(IconProblem, Icon(6))
	s.Equal(IconDefault, Icon(0))
	s.Equal(IconDefault, Icon(77))
}

func TestProjectionSuite(t *testing.T) {
	suite.Run(t, new(ProjectionSuite))
}

func TestClean(t *testing.T) {
	require.Equal(t, "到达网点", Clean("【如有问题请拨打速递官方客服956160，高效响应，快速解决】到达网点"))
	require.Equal(t, "", Clean(""))
	require.Equal(t, "a b c", Clean("  a \t b\n\nc  "))
	require.Equal(t, "快件 已签收", Clean("快件 【客服123】 已签收"))
	require.Equal(t, "到达网点", Clean("【如有问题请拨打客服９５６１６０】到达网点"))
	// no digits after the keyword: left alone
	require.Equal(t, "【请联系客服】到达", Clean("【请联系客服】到达"))
	require.Equal(t, "到达", Clean("到达　"))
}

func TestCleanOptional(t *testing.T) {
	require.Nil(t, CleanOptional(nil))
	in := " x  y "
	out := CleanOptional(&in)
	require.NotNil(t, out)
	require.Equal(t, "x y", *out)
}

func TestRender_NoSnapshot(t *testing.T) {
	q := models.TrackingQuery{APIKey: "k", TrackingNumber: "SF1"}
	s := Render("id1", q, models.CoordinatorState{})
	require.Equal(t, UnknownLabel, s.State)
	require.Equal(t, "SF1", s.Name)
	require.Equal(t, "id1_SF1", s.UniqueID)
	require.True(t, s.Available)
	require.Nil(t, s.Attributes)
}

func TestRender_WithSnapshot(t *testing.T) {
	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	q := models.TrackingQuery{APIKey: "k", TrackingNumber: "SF1", DisplayName: "书"}
	st := models.CoordinatorState{
		Phase:         models.PhaseDelivered,
		LastFetchedAt: &now,
		Snapshot: &models.TrackingSnapshot{
			StatusCode:  4,
			CarrierName: "顺丰速运",
			Phone:       "95338",
			Events: []models.TrackingEvent{
				{Time: "t2", Location: "北京", Content: "【如有问题请拨打速递官方客服956160，高效响应，快速解决】已签收"},
				{Time: "t1", Location: "天津", Content: "运输中"},
			},
		},
	}

	s := Render("id1", q, st)
	require.Equal(t, "已签收", s.State)
	require.Equal(t, "书", s.Name)
	require.Equal(t, IconDelivered, s.Icon)
	require.NotNil(t, s.Attributes)
	require.Equal(t, 2, s.Attributes.EventCount)
	require.Equal(t, "已签收", s.Attributes.LatestEvent)
	require.Equal(t, "t2", s.Attributes.LatestEventTime)
	require.Equal(t, "北京", s.Attributes.LatestEventLocation)
	require.True(t, s.Attributes.Delivered)
	require.Equal(t, &now, s.Attributes.QueriedAt)
	// the full list keeps raw vendor text
	require.Contains(t, s.Attributes.Events[0].Content, "客服956160")
}
