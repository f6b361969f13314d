package rudp

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// Collector exposes per-peer transport statistics to prometheus. Register
// it with any registry:
//
//	prometheus.MustRegister(rudp.NewCollector(conn))
//
// Collection walks the live peer registry; it never caches.
type Collector struct {
	conn *Conn

	rttAvg   *prometheus.Desc
	rttMin   *prometheus.Desc
	rttMax   *prometheus.Desc
	rateSent *prometheus.Desc
	rateRecv *prometheus.Desc
	rateLost *prometheus.Desc
}

func NewCollector(conn *Conn) *Collector {
	peerLabel := []string{"peer"}
	chLabel := []string{"peer", "channel"}
	return &Collector{
		conn: conn,
		rttAvg: prometheus.NewDesc("rudp_peer_rtt_avg_seconds",
			"Smoothed round-trip time per peer", peerLabel, nil),
		rttMin: prometheus.NewDesc("rudp_peer_rtt_min_seconds",
			"Minimum observed round-trip time per peer", peerLabel, nil),
		rttMax: prometheus.NewDesc("rudp_peer_rtt_max_seconds",
			"Maximum observed round-trip time per peer", peerLabel, nil),
		rateSent: prometheus.NewDesc("rudp_channel_sent_kbps",
			"Current outgoing rate per channel", chLabel, nil),
		rateRecv: prometheus.NewDesc("rudp_channel_received_kbps",
			"Current incoming rate per channel", chLabel, nil),
		rateLost: prometheus.NewDesc("rudp_channel_lost_kbps",
			"Current retransmission rate per channel", chLabel, nil),
	}
}

func (col *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- col.rttAvg
	ch <- col.rttMin
	ch <- col.rttMax
	ch <- col.rateSent
	ch <- col.rateRecv
	ch <- col.rateLost
}

func (col *Collector) Collect(out chan<- prometheus.Metric) {
	for _, id := range col.conn.PeerIDs() {
		p := col.conn.grabPeer(id)
		if p == nil {
			continue
		}

		peer := strconv.Itoa(int(id))
		if avg := p.rttStat(AvgRTT); avg >= 0 {
			out <- prometheus.MustNewConstMetric(col.rttAvg,
				prometheus.GaugeValue, float64(avg), peer)
			out <- prometheus.MustNewConstMetric(col.rttMin,
				prometheus.GaugeValue, float64(p.rttStat(MinRTT)), peer)
			out <- prometheus.MustNewConstMetric(col.rttMax,
				prometheus.GaugeValue, float64(p.rttStat(MaxRTT)), peer)
		}

		for i := range p.chans {
			chNum := strconv.Itoa(i)
			ch := &p.chans[i]
			out <- prometheus.MustNewConstMetric(col.rateSent,
				prometheus.GaugeValue, float64(ch.rateStat(CurDLRate)), peer, chNum)
			out <- prometheus.MustNewConstMetric(col.rateRecv,
				prometheus.GaugeValue, float64(ch.rateStat(CurIncRate)), peer, chNum)
			out <- prometheus.MustNewConstMetric(col.rateLost,
				prometheus.GaugeValue, float64(ch.rateStat(CurLossRate)), peer, chNum)
		}

		p.drop()
	}
}
