package vton

import (
	"fmt"

	"github.com/openfluke/vton/nn"
)

// Field tags a named tensor in an input batch. The person- and cloth-input
// field lists in Options are ordered selectors resolved against these tags,
// replacing free-form string keys.
type Field int

const (
	FieldImage      Field = iota // ground-truth person image, 3 channels per frame
	FieldPrevImage               // previous frame, 3 channels
	FieldCloth                   // warped cloth image, 3 channels per frame
	FieldClothMask               // warped cloth mask, 1 channel per frame
	FieldFlow                    // optical flow to the previous frame, 2 channels
	FieldAgnostic                // cloth-agnostic person image, 3 channels
	FieldDensepose               // densepose rendering, 3 channels
	FieldCocopose                // pose keypoint heatmaps, 18 channels
	FieldSilhouette              // body silhouette, 1 channel
	FieldHead                    // head crop, 3 channels
)

var fieldNames = map[Field]string{
	FieldImage:      "image",
	FieldPrevImage:  "prev_image",
	FieldCloth:      "cloth",
	FieldClothMask:  "cloth_mask",
	FieldFlow:       "flow",
	FieldAgnostic:   "agnostic",
	FieldDensepose:  "densepose",
	FieldCocopose:   "cocopose",
	FieldSilhouette: "silhouette",
	FieldHead:       "head",
}

func (f Field) String() string {
	if name, ok := fieldNames[f]; ok {
		return name
	}
	return fmt.Sprintf("field(%d)", int(f))
}

// Batch is one training or inference batch: tensors keyed by field, plus the
// per-sample dataset and image names used for inference bookkeeping. Batches
// are built by the dataset collaborator and discarded after the step.
type Batch struct {
	Tensors      map[Field]*nn.Tensor
	DatasetNames []string
	ImageNames   []string
}

// Get returns the tensor for a field or a descriptive error.
func (b *Batch) Get(f Field) (*nn.Tensor, error) {
	t, ok := b.Tensors[f]
	if !ok || t == nil {
		return nil, fmt.Errorf("vton: batch is missing field %q", f)
	}
	return t, nil
}

// CatFields concatenates the selected fields along the channel axis in
// selector order.
func (b *Batch) CatFields(fields []Field) (*nn.Tensor, error) {
	if len(fields) == 0 {
		return nil, fmt.Errorf("vton: empty field selector list")
	}
	parts := make([]*nn.Tensor, 0, len(fields))
	for _, f := range fields {
		t, err := b.Get(f)
		if err != nil {
			return nil, err
		}
		parts = append(parts, t)
	}
	return nn.ConcatChannels(parts...)
}
