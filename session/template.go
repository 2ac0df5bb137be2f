package session

import (
	"regexp"
	"strconv"

	"github.com/moviola-io/moviola/types"
)

// DefaultSaveTemplate names saved frames when no template is configured:
// the script's base name and the frame index.
const DefaultSaveTemplate = "{script_name}_{frame}"

// TemplateContext carries the values available to save-file-name
// templates.
type TemplateContext struct {
	ScriptName string
	Frame      int
	Node       types.OutputNode
	Props      types.FrameProps
}

var placeholderPattern = regexp.MustCompile(`\{[a-z_0-9]+\}`)

// ExpandTemplate substitutes the known placeholders in template. Unknown
// placeholders are left verbatim so a typo is visible in the produced
// file name instead of silently vanishing.
func ExpandTemplate(template string, ctx TemplateContext) string {
	if template == "" {
		template = DefaultSaveTemplate
	}
	return placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		switch m[1 : len(m)-1] {
		case "script_name":
			return ctx.ScriptName
		case "frame":
			return strconv.Itoa(ctx.Frame)
		case "index":
			return strconv.Itoa(int(ctx.Node.ID))
		case "format":
			return ctx.Node.Format
		case "total_frames":
			return strconv.Itoa(ctx.Node.FrameCount)
		case "width":
			return strconv.Itoa(ctx.Node.Width)
		case "height":
			return strconv.Itoa(ctx.Node.Height)
		case "fps_num":
			return strconv.FormatInt(ctx.Node.FPS.Num, 10)
		case "fps_den":
			return strconv.FormatInt(ctx.Node.FPS.Den, 10)
		case "matrix":
			return propValue(ctx.Props, types.PropNameMatrix)
		case "primaries":
			return propValue(ctx.Props, types.PropNamePrimaries)
		case "transfer":
			return propValue(ctx.Props, types.PropNameTransfer)
		case "range":
			return propValue(ctx.Props, types.PropNameColorRange)
		default:
			return m
		}
	})
}

// propValue renders a colorimetry property: the string form when the
// backend reported one, the integer code otherwise, empty when absent.
func propValue(props types.FrameProps, name string) string {
	if s := props.Str(name, ""); s != "" {
		return s
	}
	if v := props.Int(name, -1); v >= 0 {
		return strconv.FormatInt(v, 10)
	}
	return ""
}
