package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/feed"
	"obituaries/internal/transport/wire"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow a server's change feed, reconnecting when it drops",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx = logging.WithAttrs(ctx, slog.String("command", cmd.CommandPath()))

		url, _ := cmd.Flags().GetString("url")
		asJSON, _ := cmd.Flags().GetBool("json")
		base, _ := cmd.Flags().GetDuration("reconnect-base")
		maxWait, _ := cmd.Flags().GetDuration("reconnect-max")

		filter, err := watchFilterFromFlags(cmd)
		if err != nil {
			return errs.As(errs.CodeValidation, err, "parse watch filter")
		}

		out := cmd.OutOrStdout()
		client := feed.NewClient(feed.ClientConfig{
			URL:           url,
			Filter:        filter,
			ReconnectBase: base,
			ReconnectMax:  maxWait,
			OnConnect: func(n int) {
				if n > 1 {
					color.New(color.FgYellow).Fprintf(out, "reconnected (connection %d)\n", n)
				}
			},
		})

		err = client.Run(ctx, func(ev wire.Event) error {
			if asJSON {
				return json.NewEncoder(out).Encode(ev)
			}
			return writeEventLine(out, ev)
		})
		if err != nil && ctx.Err() == nil {
			return errs.Wrap(err, "follow feed")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)

	watchCmd.Flags().String("url", "ws://localhost:8080/subscribe", "Feed WebSocket URL")
	watchCmd.Flags().Int64("chain", 0, "Only events for this chain id")
	watchCmd.Flags().String("reason", "", "Only events with this reason")
	watchCmd.Flags().Bool("json", false, "Print raw event JSON")
	watchCmd.Flags().Duration("reconnect-base", time.Second, "First reconnect delay")
	watchCmd.Flags().Duration("reconnect-max", 30*time.Second, "Longest reconnect delay")
}

func watchFilterFromFlags(cmd *cobra.Command) (wire.SubscribeRequest, error) {
	var req wire.SubscribeRequest
	if chainID, _ := cmd.Flags().GetInt64("chain"); chainID != 0 {
		req.ChainID = &chainID
	}
	if reason, _ := cmd.Flags().GetString("reason"); strings.TrimSpace(reason) != "" {
		req.Reason = &reason
	}
	// Reject bad filters locally instead of letting the server close the stream.
	if _, err := req.ToFilter(); err != nil {
		return wire.SubscribeRequest{}, err
	}
	return req, nil
}

func writeEventLine(w io.Writer, ev wire.Event) error {
	o := ev.Obituary
	kind := color.New(color.FgGreen).Sprint("NEW    ")
	if ev.Type == string(domainobituary.EventUpdated) {
		kind = color.New(color.FgCyan).Sprint("UPDATED")
	}

	_, err := fmt.Fprintf(w, "%s %s %s chain=%d reason=%s risk=%s status=%s votes=%d\n",
		time.UnixMilli(o.UpdatedAt).UTC().Format(time.RFC3339),
		kind,
		o.ContractAddress,
		o.ChainID,
		o.Reason,
		riskColor(o.RiskLevel).Sprint(o.RiskLevel),
		statusColor(o.VerificationStatus).Sprint(o.VerificationStatus),
		o.VerificationCount,
	)
	if err != nil {
		return errs.Wrap(err, "write event")
	}
	return nil
}

func riskColor(risk string) *color.Color {
	switch domainobituary.RiskLevel(risk) {
	case domainobituary.RiskCritical:
		return color.New(color.FgRed, color.Bold)
	case domainobituary.RiskHigh:
		return color.New(color.FgRed)
	case domainobituary.RiskMedium:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgWhite)
	}
}

func statusColor(status string) *color.Color {
	switch domainobituary.Status(status) {
	case domainobituary.StatusVerified:
		return color.New(color.FgGreen)
	case domainobituary.StatusRejected:
		return color.New(color.FgHiBlack)
	case domainobituary.StatusDisputed:
		return color.New(color.FgMagenta)
	default:
		return color.New(color.FgYellow)
	}
}
