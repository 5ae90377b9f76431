package prompt

import (
	"fmt"
	"strings"
)

// Sentinel values clients send to mean "let the provider decide".
const (
	AutoDetect = "Auto Detect"
	Random     = "Random"
)

// ModelOptions controls the human model when Options.UseModel is set.
type ModelOptions struct {
	Gender     string      `json:"gender"`
	Age        string      `json:"age"`
	Ethnicity  string      `json:"ethnicity"`
	SkinTone   string      `json:"skinTone"`
	Outfit     string      `json:"outfit"`
	Preset     ModelPreset `json:"preset"`
	Pose       string      `json:"pose"`
	Expression string      `json:"expression"`
	Focus      string      `json:"focus"`
	Makeup     string      `json:"makeup"`
}

// AdvancedOptions gives clients fine-grained scene control instead of a
// named style.
type AdvancedOptions struct {
	LightingMood      string `json:"lightingMood"`
	BackgroundVariant string `json:"backgroundVariant"`
	BGColor           string `json:"bgColor"`
	ShotType          string `json:"shotType"`
	ShadowStyle       string `json:"shadowStyle"`
	PropPresence      string `json:"propPresence"`
	CustomPrompt      string `json:"customPrompt"`
}

// Options is the client-facing generation request, minus the images.
type Options struct {
	Style           Style           `json:"style"`
	DetectedNiche   string          `json:"detectedNiche"`
	UseModel        bool            `json:"useModel"`
	ModelOptions    ModelOptions    `json:"modelOptions"`
	UseAdvanced     bool            `json:"useAdvanced"`
	AdvancedOptions AdvancedOptions `json:"advancedOptions"`
	AspectRatio     string          `json:"aspectRatio"`
}

const defaultAspectRatio = "1:1 square"

// Build assembles the provider instruction text. The assembly order is base
// scene, niche context, model block, then either the advanced block or the
// named style, and finally the optics suffix. Unknown style or preset names
// are rejected rather than passed through as literal text.
func (o Options) Build() (string, error) {
	ratio := o.AspectRatio
	if ratio == "" {
		ratio = defaultAspectRatio
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Generate one high-quality studio photo based on multiple reference images of the same product. "+
		"Use all uploaded images collectively to preserve the true shape, color, texture, and proportions. "+
		"Combine front, side, and back views coherently into a single consistent perspective. "+
		"Do not invent new elements. Keep realism intact. "+
		"CRUCIAL INSTRUCTION: Do NOT change the product from the original image in any way. "+
		"Its color, shape, size, texture, and any logos or text must be perfectly preserved. "+
		"Only change the background, lighting, and environment around the product. "+
		"The final image must have a strict %s aspect ratio. %s ", ratio, universalTextureRealism)

	if o.DetectedNiche != "" {
		fmt.Fprintf(&b, "This product is in the '%s' category. ", o.DetectedNiche)
	}

	if o.UseModel {
		if err := o.writeModelBlock(&b); err != nil {
			return "", err
		}
	}

	if o.UseAdvanced {
		o.writeAdvancedBlock(&b)
	} else if !o.UseModel {
		style, err := StylePrompt(o.Style)
		if err != nil {
			return "", err
		}
		b.WriteString(style)
		b.WriteString(" ")
	}

	b.WriteString(cinematicOpticsRealism)
	return b.String(), nil
}

func (o Options) writeModelBlock(b *strings.Builder) error {
	m := o.ModelOptions
	b.WriteString("The photo must include a human model. ")
	if m.Gender != AutoDetect && m.Gender != "" {
		fmt.Fprintf(b, "Gender: %s. ", m.Gender)
	}
	if m.Age != Random && m.Age != "" {
		fmt.Fprintf(b, "Age: %s. ", m.Age)
	}
	if m.Ethnicity != Random && m.Ethnicity != "" {
		fmt.Fprintf(b, "Ethnicity: %s. ", m.Ethnicity)
	}
	if m.SkinTone != Random && m.SkinTone != "" {
		fmt.Fprintf(b, "Skin Tone: %s. ", m.SkinTone)
	}
	if m.Outfit != Random && m.Outfit != "" {
		fmt.Fprintf(b, "Outfit: %s. ", m.Outfit)
	}

	if m.Preset != PresetManualControl {
		preset, err := ModelPresetPrompt(m.Preset)
		if err != nil {
			return err
		}
		b.WriteString(preset)
		b.WriteString(" ")
		return nil
	}

	b.WriteString(skinAndPhotoRealism)
	b.WriteString(" ")
	if m.Pose != Random && m.Pose != "" {
		fmt.Fprintf(b, "Pose: %s. ", m.Pose)
	}
	if m.Expression != Random && m.Expression != "" {
		fmt.Fprintf(b, "Expression: %s. ", m.Expression)
	}
	fmt.Fprintf(b, "Camera Focus: %s. ", m.Focus)
	fmt.Fprintf(b, "Makeup: %s. ", m.Makeup)
	return nil
}

func (o Options) writeAdvancedBlock(b *strings.Builder) {
	a := o.AdvancedOptions
	fmt.Fprintf(b, "The lighting mood is '%s'. ", a.LightingMood)
	fmt.Fprintf(b, "The background is a '%s' type. ", a.BackgroundVariant)
	if a.BackgroundVariant == "Solid" || a.BackgroundVariant == "Gradient" {
		fmt.Fprintf(b, "The primary color for the background should be around %s. ", a.BGColor)
	}
	fmt.Fprintf(b, "The camera composition is a '%s'. ", a.ShotType)
	fmt.Fprintf(b, "Use a '%s'. ", a.ShadowStyle)
	fmt.Fprintf(b, "Prop presence level is '%s'. ", a.PropPresence)
	if custom := strings.TrimSpace(a.CustomPrompt); custom != "" {
		fmt.Fprintf(b, "Additional user instructions: %s. ", custom)
	}
}
