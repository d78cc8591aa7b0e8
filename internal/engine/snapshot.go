package engine

import (
	"github.com/valyala/fastjson"
)

// AutoDirectList is the set of domains and IPs the engine routes around the proxy
type AutoDirectList struct {
	Domains []string `json:"domains"`
	IPs     []string `json:"ips"`
}

// AutoDirectFailure counts failed direct attempts for one host
type AutoDirectFailure struct {
	Host      string `json:"host"`
	Count     int64  `json:"count"`
	LastError string `json:"last_error"`
}

var parserPool fastjson.ParserPool

// DecodeAutoDirectList decodes `{"domains":[...],"ips":[...]}`.
// An empty or malformed payload yields two empty lists; non-string
// array items are skipped.
func DecodeAutoDirectList(payload string) AutoDirectList {
	list := AutoDirectList{Domains: []string{}, IPs: []string{}}
	if payload == "" {
		return list
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.Parse(payload)
	if err != nil || v.Type() != fastjson.TypeObject {
		return list
	}
	list.Domains = stringArray(v.Get("domains"))
	list.IPs = stringArray(v.Get("ips"))
	return list
}

// DecodeAutoDirectFailures decodes `{"items":[{"host":..,"count":..,"last_error":..}]}`.
// Items without a string host are dropped, a missing count is 0 and a
// missing last_error is empty. Malformed payloads yield an empty list.
func DecodeAutoDirectFailures(payload string) []AutoDirectFailure {
	items := []AutoDirectFailure{}
	if payload == "" {
		return items
	}

	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.Parse(payload)
	if err != nil || v.Type() != fastjson.TypeObject {
		return items
	}
	arr := v.Get("items")
	if arr == nil || arr.Type() != fastjson.TypeArray {
		return items
	}
	vals, _ := arr.Array()
	for _, item := range vals {
		if item.Type() != fastjson.TypeObject {
			continue
		}
		host := item.Get("host")
		if host == nil || host.Type() != fastjson.TypeString {
			continue
		}
		f := AutoDirectFailure{Host: string(host.GetStringBytes())}
		if c := item.Get("count"); c != nil && c.Type() == fastjson.TypeNumber {
			n, _ := c.Float64()
			f.Count = int64(n)
		}
		if e := item.Get("last_error"); e != nil && e.Type() == fastjson.TypeString {
			f.LastError = string(e.GetStringBytes())
		}
		items = append(items, f)
	}
	return items
}

// stringArray returns the string members of an array value
func stringArray(v *fastjson.Value) []string {
	out := []string{}
	if v == nil || v.Type() != fastjson.TypeArray {
		return out
	}
	vals, _ := v.Array()
	for _, item := range vals {
		if item.Type() == fastjson.TypeString {
			out = append(out, string(item.GetStringBytes()))
		}
	}
	return out
}

// EncodeAutoDirectList renders a list in the engine's payload shape
func EncodeAutoDirectList(list AutoDirectList) string {
	var a fastjson.Arena
	obj := a.NewObject()
	obj.Set("domains", stringValues(&a, list.Domains))
	obj.Set("ips", stringValues(&a, list.IPs))
	return obj.String()
}

// EncodeAutoDirectFailures renders failures in the engine's payload shape
func EncodeAutoDirectFailures(items []AutoDirectFailure) string {
	var a fastjson.Arena
	arr := a.NewArray()
	for i, f := range items {
		obj := a.NewObject()
		obj.Set("host", a.NewString(f.Host))
		obj.Set("count", a.NewNumberFloat64(float64(f.Count)))
		obj.Set("last_error", a.NewString(f.LastError))
		arr.SetArrayItem(i, obj)
	}
	root := a.NewObject()
	root.Set("items", arr)
	return root.String()
}

func stringValues(a *fastjson.Arena, ss []string) *fastjson.Value {
	arr := a.NewArray()
	for i, s := range ss {
		arr.SetArrayItem(i, a.NewString(s))
	}
	return arr
}
