package cmd

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/rolewarden/internal/platform"
	"github.com/terraconstructs/rolewarden/internal/policy"
	"github.com/terraconstructs/rolewarden/internal/reconcile"
)

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Role policy commands",
}

var policyCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configured role policy",
	Long: `Validates the role policy from the configuration and prints the exclusive
groups and the dependency rules in prerequisite-first order.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pol, err := policy.New(cfg.Policy)
		if err != nil {
			return err
		}
		if _, err := reconcile.ParseTieBreak(cfg.Reconcile.TieBreak); err != nil {
			return err
		}

		label := func(id platform.RoleID) string {
			if r, ok := pol.Role(id); ok && r.Name != "" {
				return fmt.Sprintf("%s (%s)", r.Name, id)
			}
			return id.String()
		}
		labels := func(ids []platform.RoleID) string {
			out := make([]string, 0, len(ids))
			for _, id := range ids {
				out = append(out, label(id))
			}
			return strings.Join(out, ", ")
		}

		pterm.DefaultSection.Println("Exclusive groups")
		if len(pol.Groups()) == 0 {
			pterm.Info.Println("None configured.")
		} else {
			groups := pterm.TableData{{"GROUP", "ROLES"}}
			for _, g := range pol.Groups() {
				groups = append(groups, []string{g.Name, labels(g.Roles)})
			}
			if err := pterm.DefaultTable.WithHasHeader().WithData(groups).Render(); err != nil {
				return err
			}
		}

		pterm.DefaultSection.Println("Dependency rules")
		order, err := pol.DependencyOrder()
		if err != nil {
			return err
		}
		rules := pterm.TableData{{"ROLE", "GROUP", "REQUIRES ONE OF"}}
		for _, id := range order {
			rule, ok := pol.Rule(id)
			if !ok {
				continue
			}
			group := "-"
			if g, ok := pol.GroupOf(rule.Role); ok {
				group = g.Name
			}
			rules = append(rules, []string{label(rule.Role), group, labels(rule.Requires)})
		}
		if len(rules) == 1 {
			pterm.Info.Println("None configured.")
		} else if err := pterm.DefaultTable.WithHasHeader().WithData(rules).Render(); err != nil {
			return err
		}

		for _, rule := range pol.Unsatisfiable() {
			g, _ := pol.GroupOf(rule.Role)
			pterm.Warning.Printf("%s can never be held: every prerequisite is in its exclusive group %q.\n", label(rule.Role), g.Name)
		}

		pterm.Success.Printf("Policy is valid (tie-break: %s).\n", cfg.Reconcile.TieBreak)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(policyCmd)
	policyCmd.AddCommand(policyCheckCmd)
}
