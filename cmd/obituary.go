package cmd

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"obituaries/internal/bootstrap"
	"obituaries/internal/bootstrap/logging"
	domainobituary "obituaries/internal/domain/obituary"
	"obituaries/internal/errs"
	"obituaries/internal/transport/wire"
	obituaryuc "obituaries/internal/usecase/obituary"
)

var obituaryCmd = &cobra.Command{
	Use:     "obituary",
	Aliases: []string{"obit"},
	Short:   "Submit, verify and query obituaries in the local store",
}

var obituarySubmitCmd = &cobra.Command{
	Use:   "submit",
	Short: "Submit a new obituary",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		req, err := resolveSubmitRequest(cmd)
		if err != nil {
			return err
		}
		key, _ := cmd.Flags().GetString("idempotency-key")

		res, err := app.Service.Submit(ctx, obituaryuc.SubmitInput{
			Submission:     req.ToSubmission(),
			IdempotencyKey: key,
		})
		if err != nil {
			logging.Error(ctx, "submit obituary failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "submit obituary")
		}
		return printJSON(cmd, wire.SubmitResponse{ID: res.ID})
	}),
}

var obituaryGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show one obituary",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		o, err := app.Service.Get(ctx, id)
		if err != nil {
			return errs.Wrap(err, "get obituary")
		}
		return printJSON(cmd, wire.FromObituary(o))
	}),
}

var obituarySearchCmd = &cobra.Command{
	Use:   "search [text]",
	Short: "Search obituaries with optional filters",
	Args:  cobra.MaximumNArgs(1),
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		chainID, _ := cmd.Flags().GetInt64("chain")
		if address, _ := cmd.Flags().GetString("address"); strings.TrimSpace(address) != "" {
			items, err := app.Service.GetByAddress(ctx, address, chainID)
			if err != nil {
				return errs.Wrap(err, "get obituaries by address")
			}
			return printJSON(cmd, wire.FromObituaries(items))
		}

		query, err := searchQueryFromFlags(cmd, cmd.Flags().Args())
		if err != nil {
			return errs.As(errs.CodeValidation, err, "parse search flags")
		}
		page, err := app.Service.Search(ctx, query)
		if err != nil {
			return errs.Wrap(err, "search obituaries")
		}
		return printJSON(cmd, wire.FromPage(page))
	}),
}

var obituaryVoteCmd = &cobra.Command{
	Use:   "vote",
	Short: "Cast a verification vote",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		verifier, _ := cmd.Flags().GetString("verifier")
		action, _ := cmd.Flags().GetString("action")
		comment, _ := cmd.Flags().GetString("comment")
		risk, _ := cmd.Flags().GetString("risk")
		key, _ := cmd.Flags().GetString("idempotency-key")

		res, err := app.Service.Vote(ctx, obituaryuc.VoteInput{
			Vote: domainobituary.VoteInput{
				ObituaryID:      id,
				VerifierAddress: verifier,
				Action:          action,
				Comment:         comment,
				RiskLevel:       risk,
			},
			IdempotencyKey: key,
		})
		if err != nil {
			logging.Error(ctx, "vote failed", slog.Any("err", errs.Loggable(err)))
			return errs.Wrap(err, "vote")
		}
		return printJSON(cmd, wire.VoteResponse{Status: string(res.Status), VerificationCount: res.VerificationCount})
	}),
}

var obituaryVerificationsCmd = &cobra.Command{
	Use:   "verifications",
	Short: "List the votes cast on an obituary",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		items, err := app.Service.ListVerifications(ctx, id)
		if err != nil {
			return errs.Wrap(err, "list verifications")
		}
		return printJSON(cmd, wire.FromVerifications(items))
	}),
}

var obituaryAlternativesCmd = &cobra.Command{
	Use:   "alternatives",
	Short: "Append safe replacement addresses",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		addresses, _ := cmd.Flags().GetStringSlice("address")
		res, err := app.Service.AppendAlternatives(ctx, id, addresses)
		if err != nil {
			return errs.Wrap(err, "append alternatives")
		}
		return printJSON(cmd, wire.AppendResponse{Added: res.Added, Obituary: wire.FromObituary(res.Obituary)})
	}),
}

var obituaryAttachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Append proof attachment identifiers",
	RunE: withApp(func(cmd *cobra.Command, app *bootstrap.App) error {
		ctx := logging.WithAttrs(cmd.Context(), slog.String("command", cmd.CommandPath()))

		id, _ := cmd.Flags().GetString("id")
		cids, _ := cmd.Flags().GetStringSlice("cid")
		res, err := app.Service.AppendProofAttachments(ctx, id, cids)
		if err != nil {
			return errs.Wrap(err, "append attachments")
		}
		return printJSON(cmd, wire.AppendResponse{Added: res.Added, Obituary: wire.FromObituary(res.Obituary)})
	}),
}

func init() {
	rootCmd.AddCommand(obituaryCmd)
	obituaryCmd.AddCommand(obituarySubmitCmd)
	obituaryCmd.AddCommand(obituaryGetCmd)
	obituaryCmd.AddCommand(obituarySearchCmd)
	obituaryCmd.AddCommand(obituaryVoteCmd)
	obituaryCmd.AddCommand(obituaryVerificationsCmd)
	obituaryCmd.AddCommand(obituaryAlternativesCmd)
	obituaryCmd.AddCommand(obituaryAttachCmd)

	obituarySubmitCmd.Flags().String("file", "", "Path to a JSON submission (same shape as POST /obituaries)")
	obituarySubmitCmd.Flags().String("address", "", "Contract address")
	obituarySubmitCmd.Flags().String("name", "", "Contract name")
	obituarySubmitCmd.Flags().Int64("chain", 1, "Chain id")
	obituarySubmitCmd.Flags().String("reason", "", "exploited|deprecated|abandoned|rugpull|malicious")
	obituarySubmitCmd.Flags().String("risk", "", "low|medium|high|critical")
	obituarySubmitCmd.Flags().String("description", "", "What happened")
	obituarySubmitCmd.Flags().String("reported-by", "", "Reporter address")
	obituarySubmitCmd.Flags().StringSlice("evidence", nil, "Evidence links")
	obituarySubmitCmd.Flags().StringSlice("tag", nil, "Tags")
	obituarySubmitCmd.Flags().String("supersedes", "", "Id of the live record this one replaces")
	obituarySubmitCmd.Flags().String("idempotency-key", "", "Replay-safe request key")

	obituaryGetCmd.Flags().String("id", "", "Obituary id")
	_ = obituaryGetCmd.MarkFlagRequired("id")

	obituarySearchCmd.Flags().String("address", "", "List every record for this contract address")
	obituarySearchCmd.Flags().Int64("chain", 0, "Chain id filter")
	obituarySearchCmd.Flags().String("reason", "", "Reason filter")
	obituarySearchCmd.Flags().String("risk", "", "Risk level filter")
	obituarySearchCmd.Flags().String("status", "", "Verification status filter")
	obituarySearchCmd.Flags().String("sort", "", "reportedAt|verificationCount|riskLevel")
	obituarySearchCmd.Flags().Int("limit", 0, "Page size")
	obituarySearchCmd.Flags().Int("offset", 0, "Page offset")

	obituaryVoteCmd.Flags().String("id", "", "Obituary id")
	obituaryVoteCmd.Flags().String("verifier", "", "Verifier address")
	obituaryVoteCmd.Flags().String("action", "", "approve|reject")
	obituaryVoteCmd.Flags().String("comment", "", "Vote comment")
	obituaryVoteCmd.Flags().String("risk", "", "Optional risk assessment")
	obituaryVoteCmd.Flags().String("idempotency-key", "", "Replay-safe request key")
	_ = obituaryVoteCmd.MarkFlagRequired("id")
	_ = obituaryVoteCmd.MarkFlagRequired("verifier")
	_ = obituaryVoteCmd.MarkFlagRequired("action")

	obituaryVerificationsCmd.Flags().String("id", "", "Obituary id")
	_ = obituaryVerificationsCmd.MarkFlagRequired("id")

	obituaryAlternativesCmd.Flags().String("id", "", "Obituary id")
	obituaryAlternativesCmd.Flags().StringSlice("address", nil, "Replacement address(es)")
	_ = obituaryAlternativesCmd.MarkFlagRequired("id")
	_ = obituaryAlternativesCmd.MarkFlagRequired("address")

	obituaryAttachCmd.Flags().String("id", "", "Obituary id")
	obituaryAttachCmd.Flags().StringSlice("cid", nil, "Attachment content identifier(s)")
	_ = obituaryAttachCmd.MarkFlagRequired("id")
	_ = obituaryAttachCmd.MarkFlagRequired("cid")
}

// resolveSubmitRequest reads --file or builds the request from flags; the
// two are mutually exclusive.
func resolveSubmitRequest(cmd *cobra.Command) (wire.SubmitRequest, error) {
	file, _ := cmd.Flags().GetString("file")
	address, _ := cmd.Flags().GetString("address")

	if strings.TrimSpace(file) != "" {
		if strings.TrimSpace(address) != "" {
			return wire.SubmitRequest{}, errors.New("file and address are mutually exclusive")
		}
		raw, err := os.ReadFile(file)
		if err != nil {
			return wire.SubmitRequest{}, errs.Wrapf(err, "read submission file %q", file)
		}
		var req wire.SubmitRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			return wire.SubmitRequest{}, errs.As(errs.CodeValidation, err, "decode submission file")
		}
		return req, nil
	}

	if strings.TrimSpace(address) == "" {
		return wire.SubmitRequest{}, errors.New("either file or address is required")
	}
	req := wire.SubmitRequest{ContractAddress: address}
	req.ContractName, _ = cmd.Flags().GetString("name")
	req.ChainID, _ = cmd.Flags().GetInt64("chain")
	req.Reason, _ = cmd.Flags().GetString("reason")
	req.RiskLevel, _ = cmd.Flags().GetString("risk")
	req.Description, _ = cmd.Flags().GetString("description")
	req.ReportedBy, _ = cmd.Flags().GetString("reported-by")
	req.Evidence, _ = cmd.Flags().GetStringSlice("evidence")
	req.Tags, _ = cmd.Flags().GetStringSlice("tag")
	req.Supersedes, _ = cmd.Flags().GetString("supersedes")
	return req, nil
}

func searchQueryFromFlags(cmd *cobra.Command, args []string) (domainobituary.SearchQuery, error) {
	var (
		q   domainobituary.SearchQuery
		err error
	)
	if len(args) > 0 {
		q.Text = args[0]
	}
	if raw, _ := cmd.Flags().GetString("reason"); raw != "" {
		if q.Filters.Reason, err = domainobituary.ParseReason(raw); err != nil {
			return q, err
		}
	}
	if raw, _ := cmd.Flags().GetString("risk"); raw != "" {
		if q.Filters.RiskLevel, err = domainobituary.ParseRiskLevel(raw); err != nil {
			return q, err
		}
	}
	if raw, _ := cmd.Flags().GetString("status"); raw != "" {
		if q.Filters.Status, err = domainobituary.ParseStatus(raw); err != nil {
			return q, err
		}
	}
	sortKey, _ := cmd.Flags().GetString("sort")
	if q.Sort, err = domainobituary.ParseSortKey(sortKey); err != nil {
		return q, err
	}
	q.Filters.ChainID, _ = cmd.Flags().GetInt64("chain")
	q.Limit, _ = cmd.Flags().GetInt("limit")
	q.Offset, _ = cmd.Flags().GetInt("offset")
	return q, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return errs.Wrap(err, "write output")
	}
	return nil
}
