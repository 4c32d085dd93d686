package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/linkdeck/linkdeck/internal/rbac"
	"github.com/linkdeck/linkdeck/internal/shared"
)

// CanonicalSyncer reconciles the stored catalogue with a list of names.
type CanonicalSyncer interface {
	SyncCanonical(ctx context.Context, names []string) (rbac.SyncResult, error)
}

// PermissionsCLI exposes permission catalogue maintenance commands.
type PermissionsCLI struct {
	syncer CanonicalSyncer
}

// NewPermissionsCLI builds the permission helpers.
func NewPermissionsCLI(syncer CanonicalSyncer) *PermissionsCLI {
	return &PermissionsCLI{syncer: syncer}
}

// SyncOptions defines available flags for the permissions sync command.
type SyncOptions struct {
	// Names overrides the built-in catalogue when non-empty.
	Names      []string
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// SyncSummary describes the JSON response for permissions sync.
type SyncSummary struct {
	OK      bool              `json:"ok"`
	Checked int               `json:"checked"`
	Created int               `json:"created"`
	Updated int               `json:"updated"`
	Errors  map[string]string `json:"errors,omitempty"`
}

// SyncCommand runs the canonical sync and prints the outcome. It returns the
// process exit code.
func (c *PermissionsCLI) SyncCommand(ctx context.Context, opts SyncOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	names := opts.Names
	if len(names) == 0 {
		names = shared.CanonicalPermissions()
	}

	result, err := c.syncer.SyncCanonical(ctx, names)
	summary := SyncSummary{OK: err == nil, Checked: len(names), Created: result.Created, Updated: result.Updated}
	if err != nil {
		var verr *shared.ValidationError
		if errors.As(err, &verr) {
			summary.Errors = verr.Fields
		} else {
			summary.Errors = map[string]string{"sync": err.Error()}
		}
	}

	if opts.JSONOutput {
		enc := json.NewEncoder(opts.Stdout)
		enc.SetIndent("", "  ")
		if encErr := enc.Encode(summary); encErr != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "permissions sync: encode output: %v\n", encErr)
			return 1
		}
	} else if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "permissions sync failed: %v\n", err)
	} else {
		printSyncResult(opts.Stdout, summary)
	}
	if err != nil {
		return 1
	}
	return 0
}

func printSyncResult(w io.Writer, summary SyncSummary) {
	if summary.Created == 0 && summary.Updated == 0 {
		_, _ = fmt.Fprintf(w, "%d permissions already in sync\n", summary.Checked)
		return
	}
	_, _ = fmt.Fprintf(w, "checked %d permissions: %d created, %d updated\n", summary.Checked, summary.Created, summary.Updated)
}
