package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/chatmem"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/opstate"
)

func init() {
	inject := &cobra.Command{
		Use:   "inject",
		Short: "Rebuild the injected memory block, or print it with --preview",
		Args:  cobra.NoArgs,
		RunE:  withSession(runInject),
	}
	inject.Flags().Bool("preview", false, "compose the block without handing it to the host")

	export := &cobra.Command{
		Use:   "export [file]",
		Short: "Export the chat memory as JSON (stdout by default)",
		Args:  cobra.MaximumNArgs(1),
		RunE:  withSession(runExport),
	}

	imp := &cobra.Command{
		Use:   "import <file|->",
		Short: "Import an exported chat memory",
		Args:  cobra.ExactArgs(1),
		RunE:  withSession(runImport),
	}
	imp.Flags().String("mode", string(chatmem.ImportMerge), "merge, legacy or replace")

	status := &cobra.Command{
		Use:   "status",
		Short: "Show summary counts, catalog sizes and recent errors",
		Args:  cobra.NoArgs,
		RunE:  withSession(runStatus),
	}

	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Find text in summaries, legacy entries and catalogs",
		Args:  cobra.MinimumNArgs(1),
		RunE:  withSession(runSearch),
	}

	pin := &cobra.Command{
		Use:   "pin <index>",
		Short: "Pin a summary so it is admitted to the block first",
		Args:  cobra.ExactArgs(1),
		RunE:  withSession(runPin),
	}
	pin.Flags().Bool("unpin", false, "remove the pin instead")

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete current summaries, or everything with --all",
		Args:  cobra.NoArgs,
		RunE:  withSession(runClear),
	}
	clearCmd.Flags().Bool("all", false, "also delete legacy entries and every catalog")

	del := &cobra.Command{
		Use:   "delete <summary|character|event|item|legacy> <key>",
		Short: "Delete one summary, catalog entry or legacy entry",
		Args:  cobra.ExactArgs(2),
		RunE:  withSession(runDelete),
	}

	rootCmd.AddCommand(inject, export, imp, status, search, pin, clearCmd, del)
}

func runInject(cmd *cobra.Command, _ []string, s *session) error {
	preview, _ := cmd.Flags().GetBool("preview")
	if preview {
		out, err := s.Injector().Preview(cmd.Context())
		if err != nil {
			return err
		}
		if formatFlag == "json" {
			return emit(cmd, "", out)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Text)
		fmt.Fprintf(cmd.ErrOrStderr(), "tokens %d, included %v, skipped %v\n", out.Tokens, out.Included, out.Skipped)
		return nil
	}
	out := s.Injector().Rebuild(cmd.Context())
	return emit(cmd, fmt.Sprintf("injected %d tokens (%d summaries, %d skipped)",
		out.Tokens, len(out.Included), len(out.Skipped)), out)
}

func runExport(cmd *cobra.Command, args []string, s *session) error {
	data, err := s.Store().Export(cmd.Context())
	if err != nil {
		return err
	}
	if len(args) == 0 || args[0] == "-" {
		_, err = cmd.OutOrStdout().Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(args[0], data, 0o644)
}

func runImport(cmd *cobra.Command, args []string, s *session) error {
	ctx := cmd.Context()
	modeFlag, _ := cmd.Flags().GetString("mode")
	mode := chatmem.ImportMode(modeFlag)
	if !mode.IsValid() {
		return fmt.Errorf("import: unknown mode %q", modeFlag)
	}

	var (
		data []byte
		err  error
	)
	if args[0] == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	rep, err := s.Store().Import(ctx, data, mode)
	if err != nil {
		return err
	}
	if err := persist(cmd, s); err != nil {
		return err
	}
	return emit(cmd, fmt.Sprintf("imported (%s): %d summaries, %d legacy, %d characters, %d events, %d items",
		rep.Mode, rep.Summaries, rep.Legacy, rep.Characters, rep.Events, rep.Items), rep)
}

func runStatus(cmd *cobra.Command, _ []string, s *session) error {
	ctx := cmd.Context()
	out := struct {
		Stats  chatmem.Stats        `json:"stats"`
		State  opstate.Snapshot     `json:"state"`
		Models []string             `json:"models,omitempty"`
		Errors []opstate.ErrorEntry `json:"errors,omitempty"`
		Ranges map[string][]string  `json:"ranges,omitempty"`
	}{
		Stats:  s.Store().Stats(ctx),
		State:  s.State().Snapshot(),
		Errors: s.State().Errors().Entries(),
		Ranges: map[string][]string{},
	}
	for _, m := range s.Models() {
		out.Models = append(out.Models, m.Name+" "+m.State.String())
	}
	for _, r := range s.Store().InvalidatedRanges(ctx) {
		out.Ranges["invalidated"] = append(out.Ranges["invalidated"], r.String())
	}
	for _, r := range s.Store().FailedRanges(ctx) {
		out.Ranges["failed"] = append(out.Ranges["failed"], r.String())
	}

	if formatFlag == "json" {
		return emit(cmd, "", out)
	}
	w := cmd.OutOrStdout()
	st := out.Stats
	fmt.Fprintf(w, "last summarized  : %d\n", st.LastSummarizedIndex)
	fmt.Fprintf(w, "summaries        : %d individual, %d groups (%d members)\n", st.Individual, st.Groups, st.Members)
	fmt.Fprintf(w, "problems         : %d failed, %d incomplete, %d invalidated, %d empty\n",
		st.ParseFailed, st.Incomplete, st.Invalidated, st.Empty)
	fmt.Fprintf(w, "pinned / legacy  : %d / %d\n", st.Pinned, st.Legacy)
	fmt.Fprintf(w, "catalogs         : %d characters, %d events, %d items\n", st.Characters, st.Events, st.Items)
	for _, m := range out.Models {
		fmt.Fprintf(w, "model            : %s\n", m)
	}
	for _, kind := range slices.Sorted(maps.Keys(out.Ranges)) {
		fmt.Fprintf(w, "%-17s: %s\n", kind, strings.Join(out.Ranges[kind], ", "))
	}
	for _, e := range out.Errors {
		fmt.Fprintf(w, "error %s %s: %s\n", e.Time.Format("15:04:05"), e.Op, e.Message)
	}
	return nil
}

func runSearch(cmd *cobra.Command, args []string, s *session) error {
	hits := s.Store().Search(cmd.Context(), strings.Join(args, " "))
	if formatFlag == "json" {
		return emit(cmd, "", hits)
	}
	w := cmd.OutOrStdout()
	for _, h := range hits {
		key := h.Key
		if key == "" {
			key = "#" + strconv.Itoa(h.Index)
		}
		fmt.Fprintf(w, "%-9s %-12s %s\n", h.Source, key, h.Snippet)
	}
	if len(hits) == 0 {
		fmt.Fprintln(w, "no matches")
	}
	return nil
}

func runPin(cmd *cobra.Command, args []string, s *session) error {
	i, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("pin: index %q: %w", args[0], err)
	}
	unpin, _ := cmd.Flags().GetBool("unpin")
	if !s.Store().SetPinned(cmd.Context(), i, !unpin) {
		return fmt.Errorf("pin: no summary at %d", i)
	}
	if err := persist(cmd, s); err != nil {
		return err
	}
	return emit(cmd, fmt.Sprintf("summary %d pinned=%v", i, !unpin), map[string]any{"index": i, "pinned": !unpin})
}

func runClear(cmd *cobra.Command, _ []string, s *session) error {
	ctx := cmd.Context()
	all, _ := cmd.Flags().GetBool("all")
	if all {
		s.Store().ClearAll(ctx)
	} else {
		s.Store().ClearSummaries(ctx)
	}
	if err := persist(cmd, s); err != nil {
		return err
	}
	return emit(cmd, "cleared", map[string]bool{"all": all})
}

func runDelete(cmd *cobra.Command, args []string, s *session) error {
	ctx := cmd.Context()
	kind, key := args[0], args[1]
	var ok bool
	switch kind {
	case "summary", "legacy":
		n, err := strconv.Atoi(key)
		if err != nil {
			return fmt.Errorf("delete: %s key %q: %w", kind, key, err)
		}
		if kind == "legacy" {
			ok = s.Store().DeleteLegacy(ctx, n)
		} else {
			ok = len(s.Store().DeleteSummary(ctx, n)) > 0
		}
	case "character":
		ok = s.Store().DeleteCharacter(ctx, key)
	case "event":
		ok = s.Store().DeleteEvent(ctx, key)
	case "item":
		ok = s.Store().DeleteItem(ctx, key)
	default:
		return fmt.Errorf("delete: unknown kind %q", kind)
	}
	if !ok {
		return fmt.Errorf("delete: no %s %q", kind, key)
	}
	if err := persist(cmd, s); err != nil {
		return err
	}
	return emit(cmd, "deleted "+kind+" "+key, map[string]string{"kind": kind, "key": key})
}

// ── output helpers ───────────────────────────────────────────────────────────

// persist saves the store and brings visibility and the block up to date.
func persist(cmd *cobra.Command, s *session) error {
	if err := s.Store().Save(cmd.Context()); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	s.Refresh(cmd.Context())
	return nil
}

// emit prints text, or v as indented JSON with --format json.
func emit(cmd *cobra.Command, text string, v any) error {
	w := cmd.OutOrStdout()
	switch formatFlag {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		if text != "" {
			_, err := fmt.Fprintln(w, text)
			return err
		}
		return nil
	default:
		return errors.New("unknown --format " + strconv.Quote(formatFlag))
	}
}
