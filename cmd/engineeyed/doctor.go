package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.etcd.io/bbolt"

	"github.com/cuemby/engineeye/pkg/connstrategy"
	"github.com/cuemby/engineeye/pkg/credentials"
	"github.com/cuemby/engineeye/pkg/engineclient"
	"github.com/cuemby/engineeye/pkg/enginetypes"
	"github.com/cuemby/engineeye/pkg/hostregistry"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Run a one-shot connectivity check against the active host",
	RunE:  runDoctor,
}

// doctorCheck is one named diagnostic step; the overall exit status is
// unhealthy if any check fails.
type doctorCheck struct {
	name    string
	healthy bool
	message string
	took    time.Duration
}

func runDoctor(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Root().PersistentFlags().GetString("data-dir")

	var checks []doctorCheck

	db, err := bbolt.Open(filepath.Join(dataDir, "engineeye.db"), 0o600, nil)
	if err != nil {
		checks = append(checks, doctorCheck{name: "database", healthy: false, message: err.Error()})
		return printDoctorReport(checks)
	}
	defer db.Close()
	checks = append(checks, doctorCheck{name: "database", healthy: true, message: filepath.Join(dataDir, "engineeye.db")})

	hosts, err := hostregistry.New(db)
	if err != nil {
		checks = append(checks, doctorCheck{name: "host registry", healthy: false, message: err.Error()})
		return printDoctorReport(checks)
	}
	defer hosts.Close()

	activeID := hosts.Active()
	if activeID == "" {
		checks = append(checks, doctorCheck{name: "active host", healthy: false, message: "no active host configured"})
		return printDoctorReport(checks)
	}

	host, err := hosts.Get(activeID)
	if err != nil {
		checks = append(checks, doctorCheck{name: "active host", healthy: false, message: err.Error()})
		return printDoctorReport(checks)
	}
	checks = append(checks, doctorCheck{name: "active host", healthy: true, message: fmt.Sprintf("%s (%s)", host.DisplayName, host.ConnectionKind)})

	masterKey, err := loadOrCreateMasterKey(dataDir)
	if err != nil {
		checks = append(checks, doctorCheck{name: "credentials", healthy: false, message: err.Error()})
		return printDoctorReport(checks)
	}
	creds, err := credentials.NewBoltStore(db, masterKey)
	if err != nil {
		checks = append(checks, doctorCheck{name: "credentials", healthy: false, message: err.Error()})
		return printDoctorReport(checks)
	}

	strategy := connstrategy.New(creds)
	checks = append(checks, runAvailabilityCheck(strategy, host))
	checks = append(checks, runPingCheck(strategy, host))

	return printDoctorReport(checks)
}

func runAvailabilityCheck(strategy *connstrategy.Strategy, host enginetypes.HostConfig) doctorCheck {
	start := time.Now()
	ok := strategy.Availability(host)
	msg := "credentials and local preconditions present"
	if !ok {
		msg = "missing local socket, key material, or certificate for this host"
	}
	return doctorCheck{name: "availability", healthy: ok, message: msg, took: time.Since(start)}
}

func runPingCheck(strategy *connstrategy.Strategy, host enginetypes.HostConfig) doctorCheck {
	start := time.Now()
	t, err := strategy.Build(host)
	if err != nil {
		return doctorCheck{name: "ping", healthy: false, message: err.Error(), took: time.Since(start)}
	}
	client := engineclient.New(t)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx); err != nil {
		return doctorCheck{name: "ping", healthy: false, message: err.Error(), took: time.Since(start)}
	}
	return doctorCheck{name: "ping", healthy: true, message: "engine responded", took: time.Since(start)}
}

func printDoctorReport(checks []doctorCheck) error {
	allHealthy := true
	for _, c := range checks {
		status := "ok"
		if !c.healthy {
			status = "FAIL"
			allHealthy = false
		}
		fmt.Printf("[%s] %-16s %s\n", status, c.name, c.message)
	}
	if !allHealthy {
		return fmt.Errorf("one or more checks failed")
	}
	return nil
}
