// model_info.go catalogs the generation models the engine knows about and
// which surface each belongs to.
package main

// ModelInfo describes a single known model.
type ModelInfo struct {
	Name  string
	Kind  JobKind
	Sizes []string // resolution classes for video models, pixel sizes for image models
}

// knownModels is not exhaustive — the API accepts models this build has
// never heard of — but it lets the engine pick poll ceilings and lets
// callers populate model choices.
var knownModels = []ModelInfo{
	{Name: "wan2.2-i2v-flash", Kind: JobImageToVideo, Sizes: []string{"480P", "720P"}},
	{Name: "wan2.5-i2v", Kind: JobImageToVideo, Sizes: []string{"480P", "720P", "1080P"}},
	{Name: "wan2.6-i2v", Kind: JobImageToVideo, Sizes: []string{"480P", "720P", "1080P"}},
	{Name: "wan2.2-kf2v-flash", Kind: JobKeyframeVideo, Sizes: []string{"480P", "720P", "1080P"}},
	{Name: "wan2.6-r2v", Kind: JobReferenceVideo, Sizes: []string{"1280*720", "720*1280"}},
	{Name: "wan2.5-t2i", Kind: JobTextToImage, Sizes: []string{"1024*1024", "1280*720", "720*1280"}},
	{Name: "wan2.6-t2i", Kind: JobTextToImage, Sizes: []string{"1024*1024", "1280*720", "720*1280"}},
	{Name: "qwen-image-plus", Kind: JobTextToImage, Sizes: []string{"1328*1328", "1664*928"}},
	{Name: "wan2.5-image", Kind: JobImageEdit, Sizes: []string{"1280*1280"}},
	{Name: "wan2.6-image", Kind: JobImageEdit, Sizes: []string{"1280*1280"}},
	{Name: "qwen-image-edit-plus", Kind: JobImageEdit, Sizes: nil},
}

// KnownModels returns the catalog entries for one job kind, or all entries
// when kind is empty.
func KnownModels(kind JobKind) []ModelInfo {
	var out []ModelInfo
	for _, m := range knownModels {
		if kind == "" || m.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

// KindForModel looks a model name up in the catalog.
func KindForModel(name string) (JobKind, bool) {
	for _, m := range knownModels {
		if m.Name == name {
			return m.Kind, true
		}
	}
	return "", false
}
