package projection

import "github.com/BearBump/KuaidiBox/internal/models"

const UnknownLabel = "未知"

var statusLabels = [...]string{
	0:  "无记录",
	1:  "揽件",
	2:  "在途中",
	3:  "派送中",
	4:  "已签收",
	5:  "用户拒签",
	6:  "疑难件",
	7:  "无效单",
	8:  "超时单",
	9:  "签收失败",
	10: "退回",
	11: "转投",
	12: "待签",
}

const (
	IconDefault   = "mdi:package-variant"
	IconDelivered = "mdi:package-variant-closed-check"
	IconInTransit = "mdi:truck-delivery"
	IconProblem   = "mdi:alert-circle"
)

type Projection struct {
	Label     string `json:"label"`
	Delivered bool   `json:"delivered"`
}

// Label maps a vendor status code to its display label. Codes outside the
// table get UnknownLabel.
func Label(code int) string {
	if code < 0 || code >= len(statusLabels) {
		return UnknownLabel
	}
	return statusLabels[code]
}

func Project(s models.TrackingSnapshot) Projection {
	return Projection{
		Label:     Label(s.StatusCode),
		Delivered: s.StatusCode == models.StatusDelivered,
	}
}

func Icon(code int) string {
	switch code {
	case models.StatusDelivered:
		return IconDelivered
	case 2, 3:
		return IconInTransit
	case 5, 6, 7, 9, 10:
		return IconProblem
	default:
		return IconDefault
	}
}
