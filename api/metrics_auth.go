package api

import (
	"chapel-auth/core/auth"
	"chapel-auth/core/maintenance"
	"github.com/prometheus/client_golang/prometheus"
)

type authMetricsCollector struct {
	authn *auth.Authenticator

	loginsDesc      *prometheus.Desc
	lockoutsDesc    *prometheus.Desc
	refreshesDesc   *prometheus.Desc
	denialsDesc     *prometheus.Desc
	auditErrorsDesc *prometheus.Desc
}

func newAuthMetricsCollector(authn *auth.Authenticator) prometheus.Collector {
	return &authMetricsCollector{
		authn: authn,
		loginsDesc: prometheus.NewDesc(
			"chapel_auth_logins_total",
			"Login attempts by outcome.",
			[]string{"outcome"},
			nil,
		),
		lockoutsDesc: prometheus.NewDesc(
			"chapel_auth_lockouts_total",
			"Accounts locked after too many failed logins.",
			nil,
			nil,
		),
		refreshesDesc: prometheus.NewDesc(
			"chapel_auth_refreshes_total",
			"Refresh token exchanges by outcome.",
			[]string{"outcome"},
			nil,
		),
		denialsDesc: prometheus.NewDesc(
			"chapel_auth_permission_denials_total",
			"Requests rejected by permission or role checks.",
			nil,
			nil,
		),
		auditErrorsDesc: prometheus.NewDesc(
			"chapel_auth_audit_errors_total",
			"Security events that could not be written.",
			nil,
			nil,
		),
	}
}

func (c *authMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.loginsDesc
	ch <- c.lockoutsDesc
	ch <- c.refreshesDesc
	ch <- c.denialsDesc
	ch <- c.auditErrorsDesc
}

func (c *authMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.authn == nil {
		return
	}
	s := c.authn.StatsSnapshot()
	ch <- prometheus.MustNewConstMetric(c.loginsDesc, prometheus.CounterValue, float64(s.LoginSuccess), "success")
	ch <- prometheus.MustNewConstMetric(c.loginsDesc, prometheus.CounterValue, float64(s.LoginFailure), "failure")
	ch <- prometheus.MustNewConstMetric(c.loginsDesc, prometheus.CounterValue, float64(s.LockedRejects), "locked")
	ch <- prometheus.MustNewConstMetric(c.lockoutsDesc, prometheus.CounterValue, float64(s.Lockouts))
	ch <- prometheus.MustNewConstMetric(c.refreshesDesc, prometheus.CounterValue, float64(s.RefreshOK), "rotated")
	ch <- prometheus.MustNewConstMetric(c.refreshesDesc, prometheus.CounterValue, float64(s.RefreshFailed), "rejected")
	ch <- prometheus.MustNewConstMetric(c.refreshesDesc, prometheus.CounterValue, float64(s.RefreshReused), "reused")
	ch <- prometheus.MustNewConstMetric(c.denialsDesc, prometheus.CounterValue, float64(s.Denials))
	ch <- prometheus.MustNewConstMetric(c.auditErrorsDesc, prometheus.CounterValue, float64(s.AuditErrors))
}

type maintenanceMetricsCollector struct {
	worker *maintenance.Worker

	runsDesc     *prometheus.Desc
	failuresDesc *prometheus.Desc
	removedDesc  *prometheus.Desc
	lastRunDesc  *prometheus.Desc
	durationDesc *prometheus.Desc
}

func newMaintenanceMetricsCollector(worker *maintenance.Worker) prometheus.Collector {
	return &maintenanceMetricsCollector{
		worker: worker,
		runsDesc: prometheus.NewDesc(
			"chapel_maintenance_runs_total",
			"Total number of maintenance runs.",
			nil,
			nil,
		),
		failuresDesc: prometheus.NewDesc(
			"chapel_maintenance_run_errors_total",
			"Total number of maintenance runs that reported an error.",
			nil,
			nil,
		),
		removedDesc: prometheus.NewDesc(
			"chapel_maintenance_removed_total",
			"Rows removed by maintenance.",
			[]string{"kind"},
			nil,
		),
		lastRunDesc: prometheus.NewDesc(
			"chapel_maintenance_last_run_timestamp",
			"Unix timestamp of the last maintenance run.",
			nil,
			nil,
		),
		durationDesc: prometheus.NewDesc(
			"chapel_maintenance_last_run_duration_seconds",
			"Duration of the last maintenance run.",
			nil,
			nil,
		),
	}
}

func (c *maintenanceMetricsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runsDesc
	ch <- c.failuresDesc
	ch <- c.removedDesc
	ch <- c.lastRunDesc
	ch <- c.durationDesc
}

func (c *maintenanceMetricsCollector) Collect(ch chan<- prometheus.Metric) {
	if c == nil || c.worker == nil {
		return
	}
	s := c.worker.StatsSnapshot()
	ch <- prometheus.MustNewConstMetric(c.runsDesc, prometheus.CounterValue, float64(s.Runs))
	ch <- prometheus.MustNewConstMetric(c.failuresDesc, prometheus.CounterValue, float64(s.Failures))
	ch <- prometheus.MustNewConstMetric(c.removedDesc, prometheus.CounterValue, float64(s.PrunedEvents), "security_events")
	ch <- prometheus.MustNewConstMetric(c.removedDesc, prometheus.CounterValue, float64(s.PurgedTokens), "refresh_tokens")
	if !s.LastRun.IsZero() {
		ch <- prometheus.MustNewConstMetric(c.lastRunDesc, prometheus.GaugeValue, float64(s.LastRun.Unix()))
		ch <- prometheus.MustNewConstMetric(c.durationDesc, prometheus.GaugeValue, float64(s.LastRunMillis)/1000)
	}
}
