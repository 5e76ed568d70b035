package orchestrator

import (
	"context"
	"encoding/json"
	"os"
	"sort"

	apperrors "github.com/pkazakov/vecsync/internal/errors"
)

// PersistedFolders reads the folder registry straight from the store,
// without starting any synchronizers. Tools that only inspect state use
// this instead of Restore.
func (o *Orchestrator) PersistedFolders(ctx context.Context) ([]WatchedFolder, error) {
	blob, ok, err := o.store.GetMetadata(ctx, StateMetadataKey)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return nil, apperrors.New(apperrors.ErrCodeInternal, "decode persisted state", err)
	}

	sort.Slice(state.Folders, func(i, j int) bool {
		return state.Folders[i].Root < state.Folders[j].Root
	})
	return state.Folders, nil
}

// collectionFor resolves a folder path to its collection, consulting the
// live registry first and the persisted record second.
func (o *Orchestrator) collectionFor(ctx context.Context, root string) (string, error) {
	o.mu.RLock()
	e, ok := o.folders[root]
	o.mu.RUnlock()
	if ok {
		return e.folder.Collection, nil
	}

	folders, err := o.PersistedFolders(ctx)
	if err != nil {
		return "", err
	}
	for _, folder := range folders {
		if folder.Root == root {
			return folder.Collection, nil
		}
	}
	return "", apperrors.NotWatched(root)
}

// forgetPersisted removes a folder from the persisted registry and
// deletes its collection. Used when unwatching a folder that has no
// live synchronizer, such as a root that vanished while the process
// was down.
func (o *Orchestrator) forgetPersisted(ctx context.Context, root string) error {
	blob, ok, err := o.store.GetMetadata(ctx, StateMetadataKey)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NotWatched(root)
	}

	var state persistedState
	if err := json.Unmarshal(blob, &state); err != nil {
		return apperrors.New(apperrors.ErrCodeInternal, "decode persisted state", err)
	}

	kept := make([]WatchedFolder, 0, len(state.Folders))
	var removed WatchedFolder
	var found bool
	for _, folder := range state.Folders {
		if folder.Root == root {
			removed = folder
			found = true
			continue
		}
		kept = append(kept, folder)
	}
	if !found {
		return apperrors.NotWatched(root)
	}

	if err := o.store.DeleteCollection(ctx, removed.Collection); err != nil {
		return err
	}

	state.Folders = kept
	updated, err := json.Marshal(state)
	if err != nil {
		return apperrors.New(apperrors.ErrCodeInternal, "encode persisted state", err)
	}
	return o.store.PutMetadata(ctx, StateMetadataKey, updated)
}

// rootExists reports whether the path is an existing directory.
func rootExists(root string) bool {
	info, err := os.Stat(root)
	return err == nil && info.IsDir()
}
