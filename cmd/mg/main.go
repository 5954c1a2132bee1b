package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"maiguru/internal/app"
	mglog "maiguru/internal/log"
)

var rootCmd = &cobra.Command{
	Use:   "mg",
	Short: "Maiguru marketplace CLI",
	Long: `Maiguru runs the task and payment lifecycle of a freelance data-analysis marketplace.
- Tasks: a client posts work; it moves open -> assigned -> in_progress -> review -> completed (cancelled is the exit).
- Submissions: the assigned expert delivers; the client accepts, rejects or asks for a revision.
- Payments: a completed task gets one invoice and one payment intent; the platform keeps its fee and pays the rest out to the expert.
- Gateways: PayPal, Wise and M-Pesa (or the sandbox) carry charges, payouts and refunds.
- Event log: every status change is journaled, view it with 'mg log tail'.`,
	SilenceUsage: true,
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		mglog.GetLogger().WithError(err).Warn("could not load .env")
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("MAIGURU")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "", "acting account id")
	rootCmd.PersistentFlags().String("config", "", "config file (default <workspace>/maiguru.yml)")
	for _, name := range []string{"workspace", "json", "actor-id", "config"} {
		_ = viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(actorCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(submissionCmd())
	rootCmd.AddCommand(paymentCmd())
	rootCmd.AddCommand(invoiceCmd())
	rootCmd.AddCommand(payoutCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func actorID() string {
	return viper.GetString("actor-id")
}

// withApp opens the workspace, runs fn and releases everything.
func withApp(ctx context.Context, fn func(context.Context, *app.Context) error) error {
	c, err := app.Open(ctx, app.Options{
		Workspace:  viper.GetString("workspace"),
		ConfigPath: viper.GetString("config"),
	})
	if err != nil {
		return err
	}
	defer c.Close()
	return fn(ctx, c)
}

func isJSON() bool {
	return viper.GetBool("json")
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// printRecord renders one entity as a field/value table.
func printRecord(v any) error {
	if isJSON() {
		return printJSON(v)
	}
	fields, err := toMap(v)
	if err != nil {
		return err
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Field", "Value"})
	for _, k := range keys {
		tw.AppendRow(table.Row{k, cell(fields[k])})
	}
	tw.Render()
	return nil
}

// printList renders items with the given JSON fields as columns.
func printList[T any](items []T, columns ...string) error {
	if isJSON() {
		if items == nil {
			items = []T{}
		}
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	header := table.Row{}
	for _, c := range columns {
		header = append(header, strings.ToUpper(strings.ReplaceAll(c, "_", " ")))
	}
	tw.AppendHeader(header)
	for _, item := range items {
		fields, err := toMap(item)
		if err != nil {
			return err
		}
		row := table.Row{}
		for _, c := range columns {
			row = append(row, cell(fields[c]))
		}
		tw.AppendRow(row)
	}
	tw.Render()
	return nil
}

func toMap(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func cell(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case map[string]any, []any:
		b, _ := json.Marshal(x)
		return string(b)
	default:
		return fmt.Sprint(x)
	}
}
