package client

// NearTop is how close to the top of the list, in pixels, the viewport must be to backfill.
const NearTop = 120

// ShouldBackfill reports whether an older page should be requested.
func ShouldBackfill(scrollTop int, hasMore, loading bool) bool {
	return hasMore && !loading && scrollTop <= NearTop
}

// AnchorScroll keeps the viewport on the same message after a page was prepended:
// the offset moves by exactly the height the new page added.
func AnchorScroll(scrollTop, heightBefore, heightAfter int) int {
	return scrollTop + max(heightAfter-heightBefore, 0)
}
