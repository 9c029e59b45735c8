// Package chips cuts rasters into fixed size tiles and describes them as a
// GeoJSON index.
package chips

type Size struct {
	Width  int
	Height int
}

// Window is a pixel rectangle of a raster.
type Window struct {
	Col    int
	Row    int
	Width  int
	Height int
}

// Placed is a window and its (row, col) position in the window grid.
type Placed struct {
	Window Window
	Row    int
	Col    int
}

// SlidingWindows slides a window of size over a width x height raster,
// moving step pixels at a time. Unless whole is set, windows on the right
// and bottom edges are clipped to the raster. With whole only windows that
// fit entirely are returned.
func SlidingWindows(size, step Size, width, height int, whole bool) []Placed {
	if step.Width < 1 || step.Height < 1 {
		return nil
	}
	endRow, endCol := height, width
	if whole {
		endRow, endCol = height-size.Height, width-size.Width
	}
	var windows []Placed
	for posRow, row := 0, 0; row < endRow; posRow, row = posRow+1, row+step.Height {
		for posCol, col := 0, 0; col < endCol; posCol, col = posCol+1, col+step.Width {
			w, h := size.Width, size.Height
			if !whole {
				w = min(w, width-col)
				h = min(h, height-row)
			}
			windows = append(windows, Placed{
				Window: Window{Col: col, Row: row, Width: w, Height: h},
				Row:    posRow,
				Col:    posCol,
			})
		}
	}
	return windows
}

// Grouper splits items into chunks of n, padding the last one with fill.
func Grouper[T any](items []T, n int, fill T) [][]T {
	if n < 1 {
		return nil
	}
	var groups [][]T
	for start := 0; start < len(items); start += n {
		group := make([]T, n)
		copied := copy(group, items[start:min(start+n, len(items))])
		for i := copied; i < n; i++ {
			group[i] = fill
		}
		groups = append(groups, group)
	}
	return groups
}
