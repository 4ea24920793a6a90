package domain

// Category tags the moving-element discipline of a clash zone. The set is
// closed: candidates outside it are rejected at the detection boundary.
type Category string

const (
	CategoryDuct      Category = "duct"
	CategoryPipe      Category = "pipe"
	CategoryCableTray Category = "cable_tray"
	CategoryAccessory Category = "accessory"
	CategoryDamper    Category = "damper"
)

// Categories lists every valid category.
func Categories() []Category {
	return []Category{
		CategoryDuct,
		CategoryPipe,
		CategoryCableTray,
		CategoryAccessory,
		CategoryDamper,
	}
}

func (c Category) Valid() bool {
	switch c {
	case CategoryDuct, CategoryPipe, CategoryCableTray, CategoryAccessory, CategoryDamper:
		return true
	default:
		return false
	}
}
