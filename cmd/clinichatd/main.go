package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/matheus3301/clinichat/internal/daemon"
	"github.com/matheus3301/clinichat/internal/tenant"
	"go.uber.org/fx"
)

func main() {
	tenantFlag := flag.String("tenant", "", "tenant name (overrides config default)")
	flag.Parse()

	tenantName := tenant.Resolve(*tenantFlag)
	if err := tenant.ValidateName(tenantName); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	app := fx.New(
		daemon.Module(daemon.Params{TenantName: tenantName}),
	)

	app.Run()
}
