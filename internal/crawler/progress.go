package crawler

import (
	"time"

	"github.com/dustin/go-humanize"

	"github.com/Drahflow/crawler/internal/logging"
)

// report logs per-domain throughput at TRACE and the pool summary at INFO,
// at most once per report interval.
func (c *Crawler) report(now time.Time, fill int) {
	if !c.lastReport.IsZero() && now.Sub(c.lastReport) < c.cfg.ReportInterval {
		return
	}
	elapsed := now.Sub(c.lastReport).Seconds()
	if c.lastReport.IsZero() || elapsed <= 0 {
		elapsed = c.cfg.ReportInterval.Seconds()
	}
	c.lastReport = now

	var downloaded, downloadedNew uint64
	trace := c.logger.Enabled(logging.TRACE)
	for idx := range c.slots {
		e := c.slots[idx].entry
		if e == nil {
			continue
		}
		t := e.agent.TakeReport()
		downloaded += t.Downloaded
		downloadedNew += t.DownloadedNew
		if !trace {
			continue
		}
		c.logger.Trace("domain progress", map[string]interface{}{
			"domain":    e.agent.Hostname(),
			"path":      t.Current,
			"rate":      humanize.Bytes(uint64(float64(t.Downloaded)/elapsed)) + "/s",
			"new_rate":  humanize.Bytes(uint64(float64(t.DownloadedNew)/elapsed)) + "/s",
			"remaining": t.Remaining,
			"frontier":  t.Frontier,
			"state":     e.agent.State().String(),
		})
	}

	c.logger.Info("crawl progress", map[string]interface{}{
		"new":         len(c.fresh),
		"resolving":   len(c.resolving),
		"downloading": c.active,
		"retired":     humanize.Comma(int64(c.summary.Retired)),
		"fill":        fill,
		"rate":        humanize.Bytes(uint64(float64(downloaded)/elapsed)) + "/s",
		"new_rate":    humanize.Bytes(uint64(float64(downloadedNew)/elapsed)) + "/s",
		"persisted":   humanize.Bytes(c.summary.NewBytes),
	})
}
