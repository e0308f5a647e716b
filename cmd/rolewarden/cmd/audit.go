package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/rolewarden/internal/audit"
	"github.com/terraconstructs/rolewarden/internal/config"
	"github.com/terraconstructs/rolewarden/internal/platform"
)

var auditFilter string

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Inspect the audit store",
	Long:  `Commands for reading the last corrective action recorded per member.`,
}

var auditShowCmd = &cobra.Command{
	Use:   "show <memberID>",
	Short: "Show the audit record of one member",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		member, err := platform.ParseMemberID(args[0])
		if err != nil {
			return err
		}
		store, closeStore, err := openAuditStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		rec, err := store.Get(cmd.Context(), member)
		if errors.Is(err, audit.ErrNotFound) {
			pterm.Info.Printf("No audit record for member %s.\n", member)
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read audit record: %w", err)
		}

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "    ")
		return enc.Encode(map[string]audit.Record{member.String(): rec})
	},
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit records",
	Long: `Lists audit records, newest first. --filter takes a boolean expression
over MemberID, Action, Reason, NewRole, RemovedRoles and RemovedCount, e.g.
  --filter 'Action == "group-conflict" and "10" in RemovedRoles'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		filter, err := audit.NewFilter(auditFilter)
		if err != nil {
			return err
		}
		store, closeStore, err := openAuditStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		records, err := store.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to load audit records: %w", err)
		}
		matched := filter.Apply(records)
		if len(matched) == 0 {
			pterm.Info.Println("No audit records.")
			return nil
		}

		members := make([]platform.MemberID, 0, len(matched))
		for m := range matched {
			members = append(members, m)
		}
		sort.Slice(members, func(i, j int) bool {
			a, b := matched[members[i]], matched[members[j]]
			if !a.Timestamp.Equal(b.Timestamp) {
				return a.Timestamp.After(b.Timestamp)
			}
			return members[i] < members[j]
		})

		table := pterm.TableData{{"MEMBER", "TIMESTAMP", "ACTION", "REMOVED", "NEW ROLE"}}
		for _, m := range members {
			rec := matched[m]
			removed := make([]string, 0, len(rec.RemovedRoles))
			for _, r := range rec.RemovedRoles {
				removed = append(removed, r.String())
			}
			newRole := "-"
			if rec.NewRole != 0 {
				newRole = rec.NewRole.String()
			}
			action := string(rec.Action)
			if action == "" {
				action = "-"
			}
			table = append(table, []string{
				m.String(),
				rec.Timestamp.Format(time.RFC3339),
				action,
				strings.Join(removed, ","),
				newRole,
			})
		}
		return pterm.DefaultTable.WithHasHeader().WithData(table).Render()
	},
}

var auditImportCmd = &cobra.Command{
	Use:   "import <role_data.json>",
	Short: "Import a role_data.json file into the configured store",
	Long: `Reads a role_data.json file (member id -> {timestamp, removed_roles,
new_role}) and writes every record into the configured audit backend.
Existing records for the same members are overwritten.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.Audit.Backend == config.AuditBackendFile && cfg.Audit.FilePath == args[0] {
			return fmt.Errorf("source and destination are the same file")
		}

		src := audit.NewFileStore(args[0])
		defer src.Close()
		records, err := src.Load(cmd.Context())
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", args[0], err)
		}

		dst, closeStore, err := openAuditStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closeStore()

		imported := 0
		for member, rec := range records {
			if err := dst.Record(cmd.Context(), member, rec); err != nil {
				return fmt.Errorf("failed to import record for member %s after %d record(s): %w", member, imported, err)
			}
			imported++
		}
		pterm.Success.Printf("Imported %d audit record(s) into the %s backend.\n", imported, cfg.Audit.Backend)
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditFilter, "filter", "", "Boolean filter expression")

	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditShowCmd, auditListCmd, auditImportCmd)
}
