package bridge

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	framesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ezsp_bridge_frames_received_total",
		Help: "ASH frames received from the host, by frame type.",
	}, []string{"kind"})

	framesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ezsp_bridge_frames_sent_total",
		Help: "ASH frames sent to the host, by frame type.",
	}, []string{"kind"})

	naksSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ezsp_bridge_naks_sent_total",
		Help: "NAKs sent to the host for out-of-sequence or corrupt DATA.",
	})

	rejectEpisodes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ezsp_bridge_reject_episodes_total",
		Help: "Reject episodes entered (first NAK of a contiguous out-of-sequence run).",
	})

	spiTransactionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ezsp_bridge_spi_transaction_duration_seconds",
		Help:    "Wall-clock duration of one SPI send-command transaction.",
		Buckets: prometheus.DefBuckets,
	})

	ncpStateGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ezsp_bridge_ncp_state",
		Help: "Current NCP operating mode: 0=unknown, 1=normal, 2=bootloader.",
	})

	outboundRetransmits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ezsp_bridge_outbound_retransmits_total",
		Help: "Outbound DATA frames retransmitted after a NAK or T_rx_ack timeout.",
	})
)

func recordFrameReceived(kind string) { framesReceived.WithLabelValues(kind).Inc() }
func recordFrameSent(kind string)     { framesSent.WithLabelValues(kind).Inc() }
