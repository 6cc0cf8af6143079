package probe

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/tx-signer/internal/config"
)

const readinessTimeout = 5 * time.Second

func newReadiness() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "readiness",
		Short: "Asks the running server whether it is ready",
		Long:  `Calls /-/ready on the local management listener. Exits non-zero unless it answers 200.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			verbose, _ := cmd.Flags().GetBool(verboseFlag)
			cfg := config.DefaultServiceConfigFromEnv()

			ctx, cancel := context.WithTimeout(cmd.Context(), readinessTimeout)
			defer cancel()

			return readiness(ctx, http.DefaultClient, readyURL(cfg.Echo.ListenAddress), verbose)
		},
	}

	cmd.Flags().BoolP(verboseFlag, "v", false, "Print the server answer")

	return cmd
}

// readyURL points at the loopback interface when the listen address has no host.
func readyURL(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return "http://" + listen + "/-/ready"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	return "http://" + net.JoinHostPort(host, port) + "/-/ready"
}

func readiness(ctx context.Context, client *http.Client, url string, verbose bool) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build readiness request")
	}

	res, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "readiness request failed")
	}
	defer res.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
	if verbose {
		fmt.Printf("%d %s\n", res.StatusCode, body)
	}

	if res.StatusCode != http.StatusOK {
		return errors.Errorf("server not ready: %d %s", res.StatusCode, body)
	}

	return nil
}
