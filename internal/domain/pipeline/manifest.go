package pipeline

// ManifestItem is the plain WorkItem used when a stage manifest is read back
// from storage. The manifest records only item identifiers; any richer item
// payload lives with the stage executors.
type ManifestItem struct{ ID string }

// ItemID returns the item's identifier.
func (m ManifestItem) ItemID() string { return m.ID }

// ManifestItems converts raw item IDs into WorkItems.
func ManifestItems(ids []string) []WorkItem {
	items := make([]WorkItem, 0, len(ids))
	for _, id := range ids {
		items = append(items, ManifestItem{ID: id})
	}
	return items
}
