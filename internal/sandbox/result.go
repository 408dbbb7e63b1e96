package sandbox

import (
	"fmt"
	"math"
	"strconv"

	"github.com/GriffinCanCode/ParserSandbox/backend/internal/domain/plugin"
)

// AdaptResult validates a capability's raw return value. primary and
// byId must return a string; listing must return a list of objects.
func AdaptResult(capability plugin.Capability, raw any) (plugin.Value, error) {
	switch capability {
	case plugin.CapabilityListing:
		return adaptListing(raw)
	case plugin.CapabilityPrimary, plugin.CapabilityByID:
		s, ok := raw.(string)
		if !ok {
			return plugin.Value{}, plugin.ResultShapeError("%s must return a string, got %s", capability, typeName(raw))
		}
		return plugin.StringValue(s), nil
	}
	return plugin.Value{}, plugin.ResultShapeError("unknown capability %q", capability)
}

func adaptListing(raw any) (plugin.Value, error) {
	items, ok := raw.([]any)
	if !ok {
		return plugin.Value{}, plugin.ResultShapeError("listing must return a list, got %s", typeName(raw))
	}

	files := make([]plugin.FileRecord, 0, len(items))
	for i, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			return plugin.Value{}, plugin.ResultShapeError("listing element %d must be an object, got %s", i, typeName(item))
		}
		rec, err := fileRecord(m)
		if err != nil {
			return plugin.Value{}, plugin.ResultShapeError("listing element %d: %v", i, err)
		}
		files = append(files, rec)
	}
	return plugin.FileListValue(files), nil
}

type stringField struct {
	keys []string
	set  func(*plugin.FileRecord, string)
}

type numberField struct {
	keys []string
	set  func(*plugin.FileRecord, int64)
}

var stringFields = []stringField{
	{[]string{"fileName", "file_name", "name"}, func(r *plugin.FileRecord, v string) { r.FileName = v }},
	{[]string{"fileId", "file_id", "id"}, func(r *plugin.FileRecord, v string) { r.FileID = v }},
	{[]string{"fileType", "file_type", "type"}, func(r *plugin.FileRecord, v string) { r.FileType = v }},
	{[]string{"sizeStr", "size_str"}, func(r *plugin.FileRecord, v string) { r.SizeText = v }},
	{[]string{"createTime", "create_time"}, func(r *plugin.FileRecord, v string) { r.CreateTime = v }},
	{[]string{"updateTime", "update_time"}, func(r *plugin.FileRecord, v string) { r.UpdateTime = v }},
	{[]string{"createBy", "create_by"}, func(r *plugin.FileRecord, v string) { r.CreatedBy = v }},
	{[]string{"fileIcon", "file_icon"}, func(r *plugin.FileRecord, v string) { r.FileIcon = v }},
	{[]string{"panType", "pan_type"}, func(r *plugin.FileRecord, v string) { r.PanType = v }},
	{[]string{"parserUrl", "parser_url"}, func(r *plugin.FileRecord, v string) { r.ParserURL = v }},
	{[]string{"previewUrl", "preview_url"}, func(r *plugin.FileRecord, v string) { r.PreviewURL = v }},
}

var numberFields = []numberField{
	{[]string{"size"}, func(r *plugin.FileRecord, v int64) { r.Size = v }},
	{[]string{"downloadCount", "download_count"}, func(r *plugin.FileRecord, v int64) { r.DownloadCount = v }},
}

// fileRecord copies known keys only. Absent or null fields stay zero.
func fileRecord(m map[string]any) (plugin.FileRecord, error) {
	var rec plugin.FileRecord

	for _, f := range stringFields {
		v, key, ok := lookup(m, f.keys)
		if !ok {
			continue
		}
		s, ok := asString(v)
		if !ok {
			return rec, fmt.Errorf("field %s must be a string, got %s", key, typeName(v))
		}
		f.set(&rec, s)
	}

	for _, f := range numberFields {
		v, key, ok := lookup(m, f.keys)
		if !ok {
			continue
		}
		n, ok := asInt(v)
		if !ok {
			return rec, fmt.Errorf("field %s must be a number, got %s", key, typeName(v))
		}
		f.set(&rec, n)
	}
	return rec, nil
}

func lookup(m map[string]any, keys []string) (any, string, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, k, true
		}
	}
	return nil, "", false
}

// asString accepts strings and formats numbers without a fraction when whole
func asString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case int64:
		return strconv.FormatInt(s, 10), true
	case int:
		return strconv.Itoa(s), true
	case float64:
		if s == math.Trunc(s) && !math.IsInf(s, 0) {
			return strconv.FormatInt(int64(s), 10), true
		}
		return strconv.FormatFloat(s, 'f', -1, 64), true
	}
	return "", false
}

func asInt(v any) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if math.IsNaN(n) || math.IsInf(n, 0) {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case int, int64, float64:
		return "number"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	}
	return "host value"
}
