package model

import "fmt"

// LabelSet maps label names to the class indices a model predicts.
type LabelSet struct {
	names []string
	index map[string]int
}

// NewLabelSet builds a set whose class indices follow the order of names.
//
// A repeated name keeps its first index.
func NewLabelSet(names []string) *LabelSet {
	s := &LabelSet{
		names: append([]string(nil), names...),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if _, ok := s.index[name]; !ok {
			s.index[name] = i
		}
	}
	return s
}

// Len returns the number of classes.
func (s *LabelSet) Len() int {
	return len(s.names)
}

// Names returns the label names in class order.
func (s *LabelSet) Names() []string {
	return append([]string(nil), s.names...)
}

// Name returns the label of class idx.
func (s *LabelSet) Name(idx int) (string, error) {
	if idx < 0 || idx >= len(s.names) {
		return "", fmt.Errorf("class %d out of range for %d labels", idx, len(s.names))
	}
	return s.names[idx], nil
}

// Index returns the class of a label name.
func (s *LabelSet) Index(name string) (int, bool) {
	idx, ok := s.index[name]
	return idx, ok
}

// DarknetLabels are the COCO classes the published darknet YOLOv3 weights predict,
// in output order.
var DarknetLabels = NewLabelSet([]string{
	"person",
	"bicycle",
	"car",
	"motorcycle",
	"airplane",
	"bus",
	"train",
	"truck",
	"boat",
	"traffic light",
	"fire hydrant",
	"stop sign",
	"parking meter",
	"bench",
	"bird",
	"cat",
	"dog",
	"horse",
	"sheep",
	"cow",
	"elephant",
	"bear",
	"zebra",
	"giraffe",
	"backpack",
	"umbrella",
	"handbag",
	"tie",
	"suitcase",
	"frisbee",
	"skis",
	"snowboard",
	"sports ball",
	"kite",
	"baseball bat",
	"baseball glove",
	"skateboard",
	"surfboard",
	"tennis racket",
	"bottle",
	"wine glass",
	"cup",
	"fork",
	"knife",
	"spoon",
	"bowl",
	"banana",
	"apple",
	"sandwich",
	"orange",
	"broccoli",
	"carrot",
	"hot dog",
	"pizza",
	"donut",
	"cake",
	"chair",
	"couch",
	"potted plant",
	"bed",
	"dining table",
	"toilet",
	"tv",
	"laptop",
	"mouse",
	"remote",
	"keyboard",
	"cell phone",
	"microwave",
	"oven",
	"toaster",
	"sink",
	"refrigerator",
	"book",
	"clock",
	"vase",
	"scissors",
	"teddy bear",
	"hair drier",
	"toothbrush",
})
