// Package prompt assembles the instruction text sent to the image provider.
package prompt

import "fmt"

// Style is a named scene preset for product photos.
type Style string

// The full style catalog. Lookups are total: an unknown style is an error,
// never a raw label passed through to the provider.
const (
	StyleClassicStudio  Style = "Classic Studio"
	StyleNaturalOrganic Style = "Natural Organic"
	StyleLuxuryPremium  Style = "Luxury Premium"
	StyleModernMinimal  Style = "Modern Minimal"
	StyleLifestyle      Style = "Lifestyle"
	StyleFlatlay        Style = "Flatlay"
	StyleTechFuturistic Style = "Tech Futuristic"
	StyleInterior       Style = "Interior"
	StyleZenWellness    Style = "Zen & Wellness"
	StyleHeroCampaign   Style = "Hero Campaign"
)

// ModelPreset is a named pose/lighting preset for shots with a human model.
type ModelPreset string

const (
	PresetManualControl       ModelPreset = "Manual Control"
	PresetRunwayEditorial     ModelPreset = "Runway Editorial"
	PresetCommercialLifestyle ModelPreset = "Commercial Lifestyle"
	PresetStudioCampaign      ModelPreset = "Studio Campaign"
	PresetDynamicFashionShot  ModelPreset = "Dynamic Fashion Shot"
	PresetCreativeHeroModel   ModelPreset = "Creative Hero Model"
)

// Realism blocks appended to every prompt. The wording is part of the
// product's output quality and must not be edited casually.
const (
	skinAndPhotoRealism = "Create a hyperrealistic professional photograph. Render natural human skin with extreme fidelity. Every micro-detail is crucial: visible pores, fine micro-wrinkles, subtle blemishes, and barely perceptible vellus hair (peach fuzz) must be present. Preserve all natural micro-textures and skin grain, including subtle shadows in skin creases. The skin's coloration must be authentic, showing natural variations and slight, realistic color unevenness. Master the physics of light on skin: highlight its natural diffusion and translucency (subsurface scattering), and render the natural gloss from skin oil. CRUCIAL: Absolutely no airbrushing, smoothing, or artificial blurring. The result must be free of any plastic, doll-like, or CG look. The image should emulate a high-end camera capture: soft photographic grain, a true optical depth of field, balanced exposure tone-mapping, cinematic natural lighting, physically accurate shadow softness, and a filmic color response curve. The final output must be an unretouched, authentic photograph comparable to a high-fashion beauty campaign, use ultra-high-frequency texture synthesis, physically based rendering of skin micro-fibers, and sub-millimeter displacement mapping to reproduce true epidermal irregularities under directional lighting."

	universalTextureRealism = "Render all materials with physically-based accuracy. For fabrics: resolve visible weave patterns, soft wrinkles, and micro-fiber fuzz under diffused light. For glass or transparent materials: simulate refraction, edge dispersion, smudges, and balanced reflection. For liquids: show correct meniscus curve, droplet specularity, and thin film reflection. For metal: display micro-scratches, brushed texture, and soft highlight falloff. For wood or stone: preserve grain detail, micro roughness, and natural imperfections. For plastic: reproduce subtle surface gloss, edge reflection, and texture fidelity. For hair or fur: maintain directional strand detail with correct light scattering. Ensure realistic subsurface scattering, accurate specular roughness, and micro shadowing. Use physically based rendering (PBR) with high-frequency displacement mapping for all textures."

	cinematicOpticsRealism = "Simulate true optical camera physics: depth-of-field, chromatic aberration, realistic bokeh highlights, lens diffraction at small apertures, and accurate color bleeding between materials. Lighting must behave like a real studio with inverse-square law intensity falloff and soft diffusion shadows."
)

var stylePrompts = map[Style]string{
	StyleClassicStudio:  "clean studio light, pure white background, soft shadow, professional product photography, high detail, minimal aesthetic, ultra-detailed textures, controlled reflection, realistic lens focus, 85mm studio lens look, photorealistic material accuracy",
	StyleNaturalOrganic: "natural daylight, soft warm tone, wooden surface, linen texture, organic mood, nature inspired, fresh clean style, macro-level fabric texture visibility, realistic daylight falloff, bokeh depth, fine surface imperfections",
	StyleLuxuryPremium:  "luxury lighting, black and gold palette, glossy reflection, marble background, elegant cinematic product shot, soft specular highlights, cinematic contrast ratio 1:3, glass/marble reflections rendered with physical accuracy, ultra-clean DOF",
	StyleModernMinimal:  "modern minimalist studio photography, focusing on the product's form with balanced composition and negative space. Use soft, diffused lighting with subtle shadows. The color palette should be tone-on-tone harmony. No distracting decorations, real photographic depth, true-to-life textures, no CG look, natural imperfections retained",
	StyleLifestyle:      "in-context lifestyle scene, natural environment, human element optional, real-life usage setup, cozy lighting, environmental lighting matching, soft focus background, depth separation between subject and product, cinematic LUT",
	StyleFlatlay:        "flatlay top view, creative arrangement, shadowless soft light, visual storytelling composition, minimalist props, ultra-sharp lens detail, natural daylight shadow gradient, 50mm macro lens look, crisp textures",
	StyleTechFuturistic: "futuristic gradient light, metallic reflection, cyber aesthetic, cool blue tone, modern tech background, photo-based realism, metal micro-scratch detail, volumetric lighting realism, precise exposure balance",
	StyleInterior:       "interior lighting, cozy home setup, wooden furniture, ambient warm tone, natural shadows, high-resolution detail, soft directional window light, realistic reflections, cinematic exposure tone-mapping",
	StyleZenWellness:    "calm zen mood, soft diffused lighting, stone and towel texture, spa environment, peaceful color palette, ultra-fine texture of stone/towel, realistic shadow diffusion, serene daylight realism",
	StyleHeroCampaign:   "cinematic lighting, dramatic spotlight, product hero center, depth of field, studio-grade composition, studio smoke haze realism, volumetric light beam accuracy, ultra-high contrast dynamic range",
}

var modelPresetPrompts = map[ModelPreset]string{
	PresetRunwayEditorial:     "full body framing, confident editorial stance, high-contrast soft keylight, model with a strong, assertive expression. " + skinAndPhotoRealism + " 4K fashion photography realism.",
	PresetCommercialLifestyle: "natural casual pose, like a commercial ad, soft natural daylight, model with a friendly, authentic expression, soft daylight tone. " + skinAndPhotoRealism + " Natural dynamic skin lighting.",
	PresetStudioCampaign:      "formal studio campaign style, professional balanced lighting (key, fill, rim), neutral backdrop, confident and polished model pose. " + skinAndPhotoRealism + " Balanced color grading.",
	PresetDynamicFashionShot:  "dynamic motion pose, as if walking or turning lightly, with subtle motion blur, cinematic keylight, and a candid expression. " + skinAndPhotoRealism + " Realistic motion captured blur.",
	PresetCreativeHeroModel:   "creative hero shot focusing on the product, with the full-body model in the center of the frame, high-contrast cinematic lighting. " + skinAndPhotoRealism + " Studio smoke, cinematic LUT color accuracy.",
}

// StylePrompt returns the scene text for a style. Unknown styles fail closed.
func StylePrompt(s Style) (string, error) {
	text, ok := stylePrompts[s]
	if !ok {
		return "", fmt.Errorf("unknown style %q", s)
	}
	return text, nil
}

// ModelPresetPrompt returns the pose text for a preset. Unknown presets fail
// closed. PresetManualControl intentionally has no text of its own.
func ModelPresetPrompt(p ModelPreset) (string, error) {
	text, ok := modelPresetPrompts[p]
	if !ok {
		return "", fmt.Errorf("unknown model preset %q", p)
	}
	return text, nil
}

// Styles lists the catalog in a stable order, for clients and validation.
func Styles() []Style {
	return []Style{
		StyleClassicStudio,
		StyleNaturalOrganic,
		StyleLuxuryPremium,
		StyleModernMinimal,
		StyleLifestyle,
		StyleFlatlay,
		StyleTechFuturistic,
		StyleInterior,
		StyleZenWellness,
		StyleHeroCampaign,
	}
}
