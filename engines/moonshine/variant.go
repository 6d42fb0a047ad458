package moonshine

import "fmt"

// Variant names a published Moonshine model folder. Each variant is trained
// for one language; the set is fixed by the upstream releases.
type Variant string

const (
	VariantTiny   Variant = "tiny"
	VariantTinyAr Variant = "tiny-ar"
	VariantTinyZh Variant = "tiny-zh"
	VariantTinyJa Variant = "tiny-ja"
	VariantTinyKo Variant = "tiny-ko"
	VariantTinyUk Variant = "tiny-uk"
	VariantTinyVi Variant = "tiny-vi"
	VariantBase   Variant = "base"
	VariantBaseEs Variant = "base-es"
)

var variantLanguages = map[Variant]string{
	VariantTiny:   "en",
	VariantTinyAr: "ar",
	VariantTinyZh: "zh",
	VariantTinyJa: "ja",
	VariantTinyKo: "ko",
	VariantTinyUk: "uk",
	VariantTinyVi: "vi",
	VariantBase:   "en",
	VariantBaseEs: "es",
}

// Language returns the ISO language code the variant was trained for.
func (v Variant) Language() string { return variantLanguages[v] }

// FolderName returns the model folder name for the variant.
func (v Variant) FolderName() string { return "moonshine-" + string(v) }

// validate rejects variants outside the published set.
func (v Variant) validate() error {
	if _, ok := variantLanguages[v]; !ok {
		return fmt.Errorf("moonshine: unknown model variant %q", string(v))
	}
	return nil
}

// ModelParams is fixed for the lifetime of a loaded model.
type ModelParams struct {
	Variant Variant
}

// DefaultModelParams selects the English base variant.
func DefaultModelParams() ModelParams { return ModelParams{Variant: VariantBase} }

// VariantParams selects a specific variant.
func VariantParams(v Variant) ModelParams { return ModelParams{Variant: v} }

// InferenceParams configures one transcription call.
type InferenceParams struct {
	// MaxLength bounds the decoded token count. Zero derives the bound from
	// the audio duration. Decoding that reaches the bound truncates; it
	// never errors.
	MaxLength int
}
