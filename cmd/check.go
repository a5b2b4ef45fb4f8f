package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/pkg/errors"
	"github.com/sable-lang/sable/internal/log"
	"github.com/sable-lang/sable/sberr"
	"github.com/sable-lang/sable/types"
	"github.com/spf13/cobra"
)

var CheckCmd = &cobra.Command{
	Use:          "check",
	Short:        "Run the type engine's built-in self check",
	RunE:         runCheck,
	SilenceUsage: true,
}

var (
	checkWorkers        *int
	checkRecursionLimit *int
	checkSkipLeakCheck  *bool
	logLevel            *int
)

func init() {
	checkWorkers = CheckCmd.Flags().IntP("workers", "w", 0, "query worker pool size (0 for default)")
	checkRecursionLimit = CheckCmd.Flags().Int("recursion-limit", 0, "opaque expansion depth limit (0 for default)")
	checkSkipLeakCheck = CheckCmd.Flags().Bool("skip-leak-check", false, "disable the placeholder leak check (unsound)")
	logLevel = CheckCmd.Flags().IntP("log-level", "l", int(slog.LevelError), "log level")
}

// runCheck exercises the engine end to end on a small built-in prelude:
// a higher-ranked subtyping probe, a variance check, and a projection
// normalization. It is the smoke test reached for when debugging an
// embedding of the engine.
func runCheck(cmd *cobra.Command, args []string) error {
	log.SetLevel(slog.Level(*logLevel))

	sess := types.NewSession(types.Config{
		Workers:        *checkWorkers,
		RecursionLimit: *checkRecursionLimit,
		SkipLeakCheck:  *checkSkipLeakCheck,
	})
	prelude(sess)

	if err := checkHigherRanked(sess); err != nil {
		return errors.Wrap(err, "higher-ranked subtyping")
	}
	if err := checkNormalization(cmd, sess); err != nil {
		return errors.Wrap(err, "projection normalization")
	}

	if sess.Errors().HasError() {
		sb := &strings.Builder{}
		for _, e := range sess.Errors().Errors() {
			sb.WriteString("\n")
			sb.WriteString(sberr.FormatWithCode(e))
		}
		return fmt.Errorf("errors found during self check:%s", sb.String())
	}
	cmd.Println("self check passed")
	return nil
}

func prelude(sess *types.Session) {
	sess.DefineType("Vec", types.Covariant)
	sess.DefineType("Cell", types.Invariant)
	sess.DefineImpl("Vec", "Item", types.ParamType{Name: "T", Index: 0})
	sess.DefineImpl("i32", "Output", types.CtorType{Head: "i32"})
}

// checkHigherRanked probes for<'a> fn(&'a i32) -> &'a i32 against itself,
// which must succeed, and against fn(&'x i32) -> &'x i32 for a free 'x,
// which must fail the leak check.
func checkHigherRanked(sess *types.Session) error {
	i32 := types.CtorType{Head: "i32"}
	identity := types.Bind(1, types.FnType{
		Params: []types.Type{types.RefType{Reg: types.BoundRegion{Index: 0}, Elem: i32}},
		Ret:    types.RefType{Reg: types.BoundRegion{Index: 0}, Elem: i32},
	})
	if _, _, err := sess.Relate(identity, identity, types.RelateSub, types.AIsFound); err != nil {
		return err
	}

	free := types.MonoBinder(types.FnType{
		Params: []types.Type{types.RefType{Reg: types.FreeRegion{Name: "x"}, Elem: i32}},
		Ret:    types.RefType{Reg: types.FreeRegion{Name: "x"}, Elem: i32},
	})
	if _, _, err := sess.Relate(free, identity, types.RelateSub, types.AIsFound); err == nil {
		return fmt.Errorf("monomorphic function accepted where a polymorphic one is required")
	}
	return nil
}

func checkNormalization(cmd *cobra.Command, sess *types.Session) error {
	vecI32 := types.CtorType{Head: "Vec", Args: []types.GenericArg{types.CtorType{Head: "i32"}}}
	proj := types.ProjType{Base: vecI32, Selector: "Item"}
	env := types.ParamEnv{Reveal: types.RevealAll, Name: "check"}

	out, obligations, err := sess.FullyNormalize(cmd.Context(), proj, env)
	if err != nil {
		return err
	}
	cmd.Printf("%s normalizes to %s (%d obligations)\n", proj, out, len(obligations))

	batch, _, err := sess.NormalizeAll(cmd.Context(), []types.Type{proj, vecI32}, env)
	if err != nil {
		return err
	}
	for i, b := range batch {
		cmd.Printf("batch %d: %s\n", i, b)
	}

	hits, terms := sess.Interner().Stats()
	cmd.Printf("interner: %d terms, %d hits\n", terms, hits)
	return nil
}
