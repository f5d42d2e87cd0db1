package nn

// Annotation is the ground truth of one image, as stored in a JSON file next to the image
type Annotation struct {
	ImageWidth  int               `json:"imageWidth,omitempty"`
	ImageHeight int               `json:"imageHeight,omitempty"`
	Objects     []AnnotatedObject `json:"objects"`
}

// AnnotatedObject is one labelled object
type AnnotatedObject struct {
	Class     string `json:"class"`
	Box       Rect   `json:"box"`
	Difficult bool   `json:"difficult,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
	Occluded  bool   `json:"occluded,omitempty"`
}
