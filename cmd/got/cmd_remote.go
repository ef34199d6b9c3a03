package main

import (
	"fmt"
	"sort"

	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newRemoteCmd() *cobra.Command {
	var verbose bool
	var deleteRemote bool

	cmd := &cobra.Command{
		Use:   "remote [name] [url]",
		Short: "List repository remotes, or add/update/delete one",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			if deleteRemote {
				if len(args) != 1 {
					return fmt.Errorf("remote -d requires exactly one remote name")
				}
				return r.DeleteRemote(args[0])
			}
			if len(args) == 2 {
				return r.SetRemote(args[0], args[1])
			}
			if len(args) == 1 {
				url, err := r.RemoteURL(args[0])
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), url)
				return nil
			}

			return listRemotes(cmd, wt, r, verbose)
		},
	}

	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "also show got.conf's richer [remote.*] entries")
	cmd.Flags().BoolVarP(&deleteRemote, "delete", "d", false, "delete the named remote")

	return cmd
}

// listRemotes prints the repository's named remotes (.got/config.json,
// writable via "got remote NAME URL"). With --verbose, it also prints
// got.conf's read-only [remote.*] sections from the worktree meta
// directory, which carry server/protocol/repository fields the
// simple name-to-URL registry does not.
func listRemotes(cmd *cobra.Command, wt *worktree.Worktree, r *repo.Repo, verbose bool) error {
	out := cmd.OutOrStdout()

	cfg, err := r.ReadConfig()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(cfg.Remotes))
	for name := range cfg.Remotes {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(out, "%s\t%s\n", name, cfg.Remotes[name])
	}

	if !verbose {
		return nil
	}

	wtCfg, err := worktree.ReadConfig(wt.MetaDir)
	if err != nil {
		return err
	}
	confNames := make([]string, 0, len(wtCfg.Remote))
	for name := range wtCfg.Remote {
		confNames = append(confNames, name)
	}
	sort.Strings(confNames)
	for _, name := range confNames {
		rc := wtCfg.Remote[name]
		fmt.Fprintf(out, "got.conf/%s\t%s (%s)\t%s\n", name, rc.Server, rc.Protocol, rc.Repository)
	}
	return nil
}
