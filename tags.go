package cachekit

import (
	"context"
	"fmt"

	"github.com/unkn0wn-root/cachekit/backend"
	"github.com/unkn0wn-root/cachekit/internal/util"
)

// InvalidateTag deletes every key in the tag set and then the set itself,
// returning how many keys were deleted. Absent or empty tags are a no-op.
//
// When some member deletes fail the set is kept and a *TagInvalidateError is
// returned, so retrying the invalidation still finds the remaining keys.
func InvalidateTag(ctx context.Context, b backend.Backend, tag string) (int, error) {
	tk := util.TagKey(tag)
	keys, err := b.Members(ctx, tk)
	if err != nil {
		return 0, fmt.Errorf("invalidate tag %q: %w", tag, err)
	}
	if len(keys) == 0 {
		return 0, nil
	}

	var failed map[string]error
	for _, k := range keys {
		if err := b.Delete(ctx, k); err != nil {
			if failed == nil {
				failed = make(map[string]error)
			}
			failed[k] = err
		}
	}
	deleted := len(keys) - len(failed)
	if len(failed) > 0 {
		return deleted, &TagInvalidateError{Tag: tag, Failed: failed}
	}

	if err := b.Delete(ctx, tk); err != nil {
		return deleted, fmt.Errorf("invalidate tag %q: delete tag set: %w", tag, err)
	}
	return deleted, nil
}
