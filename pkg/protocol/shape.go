package protocol

// Shape selects how the response frame for an in-flight request is
// decoded. The wire bytes alone are ambiguous between the two layouts,
// so the caller declares the shape at submit time and the session
// remembers it per id.
type Shape int

const (
    // ShapeBlockList accepts any number of byte blocks.
    ShapeBlockList Shape = iota
    // ShapeSingleBlock requires exactly one block; any other count is a
    // protocol violation, never silently the first element.
    ShapeSingleBlock
    // ShapeVector expects a float32 vector.
    ShapeVector
)

func (s Shape) String() string {
    switch s {
    case ShapeBlockList:
        return "block-list"
    case ShapeSingleBlock:
        return "single-block"
    case ShapeVector:
        return "vector"
    default:
        return "unknown"
    }
}
