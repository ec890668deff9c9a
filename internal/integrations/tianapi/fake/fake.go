package fake

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/BearBump/KuaidiBox/internal/models"
)

// FakeClient: заглушка Tianapi для демо-режима. Статус детерминированно
// выводится из трек-номера: примерно каждый пятый трек считается доставленным.
type FakeClient struct {
	now func() time.Time
}

func New() *FakeClient { return &FakeClient{now: time.Now} }

func (f *FakeClient) Fetch(ctx context.Context, q models.TrackingQuery) (models.TrackingSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.TrackingSnapshot{}, err
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(q.TrackingNumber))
	v := h.Sum32()

	status := 2
	if v%5 == 0 {
		status = models.StatusDelivered
	} else if v%7 == 0 {
		status = 3
	}

	ts := f.now().UTC().Format("2006-01-02 15:04:05")
	return models.TrackingSnapshot{
		StatusCode:       status,
		CarrierName:      "演示快递",
		CarrierNameEn:    "demo",
		Phone:            "400-000-0000",
		LastVendorUpdate: ts,
		Events: []models.TrackingEvent{
			{Time: ts, Location: "演示网点", Content: "【如有问题请拨打速递官方客服956160，高效响应，快速解决】快件已到达演示网点"},
			{Time: ts, Location: "演示仓", Content: "已揽收"},
		},
	}, nil
}
