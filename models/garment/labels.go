package garment

import "fmt"

// Class is the coarse garment bucket a label belongs to.
type Class string

const (
	// ClassUpper covers upper-body garments.
	ClassUpper Class = "A"
	// ClassLower covers bottom-wear.
	ClassLower Class = "B"
	// ClassDress covers dresses.
	ClassDress Class = "C"
)

// Labels is the classifier's output order. Index i of the logits scores Labels[i].
var Labels = []string{
	"Blouse",
	"Cardigan",
	"Jacket",
	"Sweater",
	"Tank",
	"Tee",
	"Top",
	"Jeans",
	"Shorts",
	"Skirts",
	"Dress",
}

// buckets attaches a class to every label by name, so reordering Labels never moves a label
// into another bucket.
var buckets = map[string]Class{
	"Blouse":   ClassUpper,
	"Cardigan": ClassUpper,
	"Jacket":   ClassUpper,
	"Sweater":  ClassUpper,
	"Tank":     ClassUpper,
	"Tee":      ClassUpper,
	"Top":      ClassUpper,
	"Jeans":    ClassLower,
	"Shorts":   ClassLower,
	"Skirts":   ClassLower,
	"Dress":    ClassDress,
}

// Result is a single classification.
type Result struct {
	Label string `json:"label"`
	Class Class  `json:"garment_class"`
}

// BucketFor returns the class of a label.
func BucketFor(label string) (Class, bool) {
	c, ok := buckets[label]
	return c, ok
}

// ResultForIndex maps a logit index to its label and class.
//
// Arguments:
//   - index: The argmax of the logits.
//
// Returns:
//   - Result: The label and its class.
//   - error: An error if index is outside Labels or the label has no bucket.
func ResultForIndex(index int) (Result, error) {
	if index < 0 || index >= len(Labels) {
		return Result{}, fmt.Errorf("class index %d out of range [0,%d)", index, len(Labels))
	}
	label := Labels[index]
	class, ok := BucketFor(label)
	if !ok {
		return Result{}, fmt.Errorf("label %q has no garment class", label)
	}
	return Result{Label: label, Class: class}, nil
}

// checkLabels verifies every label has exactly one bucket and no bucket names an unknown label.
func checkLabels() error {
	seen := make(map[string]bool, len(Labels))
	for _, l := range Labels {
		if seen[l] {
			return fmt.Errorf("duplicate label %q", l)
		}
		seen[l] = true
		if _, ok := buckets[l]; !ok {
			return fmt.Errorf("label %q has no garment class", l)
		}
	}
	if len(buckets) != len(Labels) {
		return fmt.Errorf("%d garment classes defined for %d labels", len(buckets), len(Labels))
	}
	return nil
}
