// Command killswitch is the operator tool for the trading halt flag.
//
//	killswitch -db gapdrift.db -status
//	killswitch -db gapdrift.db -on -reason "manual halt before earnings"
//	killswitch -db gapdrift.db -off
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/jspahr/gapdrift/internal/state"
)

func main() {
	var (
		dbPath = flag.String("db", "gapdrift.db", "path to the state database")
		on     = flag.Bool("on", false, "engage the kill switch")
		off    = flag.Bool("off", false, "release the kill switch")
		status = flag.Bool("status", false, "print the current state")
		reason = flag.String("reason", "operator", "reason recorded when engaging")
	)
	flag.Parse()

	actions := 0
	for _, a := range []bool{*on, *off, *status} {
		if a {
			actions++
		}
	}
	if actions != 1 {
		fmt.Fprintln(os.Stderr, "exactly one of -on, -off, -status is required")
		flag.Usage()
		os.Exit(1)
	}

	logger := log.New(os.Stderr, "[KILLSWITCH] ", log.LstdFlags)
	store, err := state.Open(*dbPath, logger)
	if err != nil {
		logger.Fatalf("failed to open state store: %v", err)
	}
	defer store.Close()

	switch {
	case *on:
		if err := store.EngageKillSwitch(*reason); err != nil {
			logger.Fatalf("failed to engage kill switch: %v", err)
		}
		fmt.Println("kill switch engaged")
	case *off:
		if err := store.ReleaseKillSwitch(); err != nil {
			logger.Fatalf("failed to release kill switch: %v", err)
		}
		fmt.Println("kill switch released")
	case *status:
		st, err := store.KillSwitch()
		if err != nil {
			logger.Fatalf("failed to read kill switch: %v", err)
		}
		if st.Engaged {
			fmt.Printf("kill switch: ON (reason: %s, since %s)\n", st.Reason, st.EngagedAt)
		} else {
			fmt.Println("kill switch: off")
		}
	}
}
