package forward

import (
	"context"
	"fmt"

	"github.com/nicolasvandooren/dicom-forwarder/internal/cache"
	"github.com/nicolasvandooren/dicom-forwarder/internal/imaging"
	"github.com/nicolasvandooren/dicom-forwarder/pkg/dcm"
)

// AbortLevel is the escalation an editor can request.
type AbortLevel int

const (
	// AbortNone continues the transfer.
	AbortNone AbortLevel = iota
	// AbortFile drops this instance; the association stays usable.
	AbortFile
	// AbortConnection releases the inbound association and stops the
	// whole forwarding invocation.
	AbortConnection
)

// EditorContext is shared across the editor chain of one destination for one
// instance. Editors raise aborts and may override the mask burned into the
// pixel data.
type EditorContext struct {
	Abort        AbortLevel
	AbortMessage string
	SourceAET    string
	TargetAET    string
	Mask         *imaging.MaskArea
}

// AttributeEditor mutates a parsed dataset before it is written to a
// destination. Apply reports whether the dataset was changed.
type AttributeEditor interface {
	Apply(ds *dcm.Dataset, ctx *EditorContext) bool
}

// AbortError carries an editor-requested abort out of the transfer.
type AbortError struct {
	Level   AbortLevel
	Message string
}

func (e *AbortError) Error() string {
	if e.Level == AbortConnection {
		return fmt.Sprintf("DICOM association abort: %s", e.Message)
	}
	return e.Message
}

// applyEditors runs the chain in order, refreshing the instance identifiers
// after every editor since one may rewrite them.
func applyEditors(editors []AttributeEditor, ds *dcm.Dataset, ctx *EditorContext, cuid, iuid *string) {
	for _, editor := range editors {
		editor.Apply(ds, ctx)
		*iuid = ds.StringDefault(dcm.TagSOPInstanceUID, *iuid)
		*cuid = ds.StringDefault(dcm.TagSOPClassUID, *cuid)
	}
}

// TagEditor sets and removes plain attribute values.
type TagEditor struct {
	Set    map[dcm.Tag]string
	Remove []dcm.Tag
}

func (e *TagEditor) Apply(ds *dcm.Dataset, ctx *EditorContext) bool {
	changed := false
	for tag, value := range e.Set {
		ds.SetString(tag, dcm.DictVR(tag), value)
		changed = true
	}
	for _, tag := range e.Remove {
		if ds.Remove(tag) {
			changed = true
		}
	}
	return changed
}

// UIDRemapper rewrites study, series and instance UIDs to generated ones,
// keeping the mapping in the cache so instances of the same study stay
// grouped after de-identification.
type UIDRemapper struct {
	Cache cache.Cache
}

var remapTags = []dcm.Tag{
	dcm.TagStudyInstanceUID,
	dcm.TagSeriesInstanceUID,
	dcm.TagSOPInstanceUID,
}

func (e *UIDRemapper) Apply(ds *dcm.Dataset, ctx *EditorContext) bool {
	changed := false
	for _, tag := range remapTags {
		original, ok := ds.String(tag)
		if !ok || original == "" {
			continue
		}
		ds.SetString(tag, dcm.VRUI, e.remap(original))
		changed = true
	}
	return changed
}

func (e *UIDRemapper) remap(original string) string {
	ctx := context.Background()
	key := cache.UIDMapKey(original)
	if e.Cache != nil {
		if mapped, err := e.Cache.Get(ctx, key); err == nil {
			return string(mapped)
		}
	}
	mapped := dcm.NewUID()
	if e.Cache != nil {
		e.Cache.Set(ctx, key, []byte(mapped), 0)
	}
	return mapped
}

// SOPClassFilter aborts instances whose SOP class is not forwarded.
type SOPClassFilter struct {
	Rejected []string
}

func (e *SOPClassFilter) Apply(ds *dcm.Dataset, ctx *EditorContext) bool {
	cuid := ds.StringDefault(dcm.TagSOPClassUID, "")
	for _, rejected := range e.Rejected {
		if cuid == rejected {
			ctx.Abort = AbortFile
			ctx.AbortMessage = fmt.Sprintf("SOP class %s is not forwarded", cuid)
			return false
		}
	}
	return false
}
