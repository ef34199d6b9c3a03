package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/odvcencio/got/pkg/object"
	"github.com/odvcencio/got/pkg/repo"
	"github.com/odvcencio/got/pkg/worktree"
	"github.com/spf13/cobra"
)

func newCommitCmd() *cobra.Command {
	var message string
	var author string
	var sign bool
	var signKey string

	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Record staged and modified changes to the repository",
		RunE: func(cmd *cobra.Command, args []string) error {
			if strings.TrimSpace(message) == "" {
				return fmt.Errorf("commit message is required (-m)")
			}

			wt, r, err := openWorktree()
			if err != nil {
				return err
			}
			defer wt.Close()

			commitables, err := worktree.CollectCommitables(wt, r.Store, args)
			if err != nil {
				return err
			}

			head, err := r.ResolveRef(wt.HeadRefName)
			if err != nil && !errors.Is(err, os.ErrNotExist) {
				return err
			}
			if err := worktree.CheckCommitablesOutOfDate(r.Store, commitables, head); err != nil {
				return err
			}

			sig := currentSignature(wt, author)
			newID, err := worktree.CommitWorktree(r.Store, r, wt.HeadRefName, wt, commitables, sig, sig, message, time.Now())
			if err != nil {
				return err
			}

			signedWith := ""
			if sign {
				newID, signedWith, err = resignCommit(r, wt.HeadRefName, newID, signKey)
				if err != nil {
					return err
				}
				if err := wt.SetBaseCommit(newID); err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "[%s %s] %s\n", strings.TrimPrefix(wt.HeadRefName, "refs/heads/"), shortID(newID), message)
			if sign {
				fmt.Fprintf(out, "signed with %s\n", signedWith)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "commit message")
	cmd.Flags().StringVar(&author, "author", "", "override author (default: got.conf [author], then $USER)")
	cmd.Flags().BoolVar(&sign, "sign", false, "sign the commit with an SSH private key")
	cmd.Flags().StringVar(&signKey, "sign-key", "", "path to SSH private key (defaults to ~/.ssh/id_ed25519, id_ecdsa, id_rsa)")

	return cmd
}

// resignCommit reads back a just-written commit, attaches an SSH
// signature over its canonical payload, writes the signed copy under a
// new id, and fast-forwards ref from the unsigned commit to it.
func resignCommit(r *repo.Repo, ref string, unsignedID object.ObjectID, signKey string) (object.ObjectID, string, error) {
	commit, err := r.Store.ReadCommit(unsignedID)
	if err != nil {
		return object.ObjectID{}, "", fmt.Errorf("resign: read commit: %w", err)
	}

	signer, keyPath, err := newSSHCommitSigner(signKey)
	if err != nil {
		return object.ObjectID{}, "", err
	}

	sig, err := signer(object.CommitSigningPayload(commit))
	if err != nil {
		return object.ObjectID{}, "", fmt.Errorf("resign: sign: %w", err)
	}
	commit.SSHSignature = sig

	signedID, err := r.Store.WriteCommit(commit)
	if err != nil {
		return object.ObjectID{}, "", fmt.Errorf("resign: write signed commit: %w", err)
	}

	if err := r.UpdateRefCAS(ref, signedID, unsignedID); err != nil {
		return object.ObjectID{}, "", fmt.Errorf("resign: update ref: %w", err)
	}
	return signedID, keyPath, nil
}
