package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TopupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucherbot_topups_total",
		Help: "Payment notifications by intake outcome.",
	}, []string{"outcome"})

	RedemptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucherbot_redemptions_total",
		Help: "External redemption attempts by result.",
	}, []string{"result"})

	BansTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "voucherbot_bans_total",
		Help: "Bans applied by the abuse tracker.",
	}, []string{"kind"})
)
