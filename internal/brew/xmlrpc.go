package brew

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"
)

// The hub speaks XML-RPC. Only the subset of types koji actually emits is
// implemented here: string, int (i4/i8), boolean, double, nil, array, struct.

type faultError struct {
	Code   int
	String string
}

func (e *faultError) Error() string {
	return fmt.Sprintf("koji hub fault %d: %s", e.Code, e.String)
}

func marshalCall(method string, args []any) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	buf.WriteString("<methodCall><methodName>")
	if err := xml.EscapeText(&buf, []byte(method)); err != nil {
		return nil, err
	}
	buf.WriteString("</methodName><params>")
	for _, arg := range args {
		buf.WriteString("<param>")
		if err := writeValue(&buf, arg); err != nil {
			return nil, err
		}
		buf.WriteString("</param>")
	}
	buf.WriteString("</params></methodCall>")
	return buf.Bytes(), nil
}

func writeValue(buf *bytes.Buffer, v any) error {
	buf.WriteString("<value>")
	switch t := v.(type) {
	case nil:
		buf.WriteString("<nil/>")
	case string:
		buf.WriteString("<string>")
		if err := xml.EscapeText(buf, []byte(t)); err != nil {
			return err
		}
		buf.WriteString("</string>")
	case bool:
		if t {
			buf.WriteString("<boolean>1</boolean>")
		} else {
			buf.WriteString("<boolean>0</boolean>")
		}
	case int:
		fmt.Fprintf(buf, "<i8>%d</i8>", t)
	case int64:
		fmt.Fprintf(buf, "<i8>%d</i8>", t)
	case float64:
		fmt.Fprintf(buf, "<double>%g</double>", t)
	case []any:
		buf.WriteString("<array><data>")
		for _, item := range t {
			if err := writeValue(buf, item); err != nil {
				return err
			}
		}
		buf.WriteString("</data></array>")
	case map[string]any:
		buf.WriteString("<struct>")
		for k, item := range t {
			buf.WriteString("<member><name>")
			if err := xml.EscapeText(buf, []byte(k)); err != nil {
				return err
			}
			buf.WriteString("</name>")
			if err := writeValue(buf, item); err != nil {
				return err
			}
			buf.WriteString("</member>")
		}
		buf.WriteString("</struct>")
	default:
		return fmt.Errorf("unsupported xmlrpc parameter type %T", v)
	}
	buf.WriteString("</value>")
	return nil
}

type xResponse struct {
	XMLName xml.Name `xml:"methodResponse"`
	Params  []xValue `xml:"params>param>value"`
	Fault   *xValue  `xml:"fault>value"`
}

type xValue struct {
	Str     *string  `xml:"string"`
	Int     *string  `xml:"int"`
	I4      *string  `xml:"i4"`
	I8      *string  `xml:"i8"`
	Boolean *string  `xml:"boolean"`
	Double  *string  `xml:"double"`
	Nil     *xNil    `xml:"nil"`
	Array   *xArray  `xml:"array"`
	Struct  *xStruct `xml:"struct"`
	ISO8601 *string  `xml:"dateTime.iso8601"`
	Text    string   `xml:",chardata"`
}

type xNil struct{}

type xArray struct {
	Values []xValue `xml:"data>value"`
}

type xStruct struct {
	Members []xMember `xml:"member"`
}

type xMember struct {
	Name  string `xml:"name"`
	Value xValue `xml:"value"`
}

func unmarshalResponse(raw []byte) (any, error) {
	var resp xResponse
	if err := xml.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("invalid xmlrpc response: %w", err)
	}
	if resp.Fault != nil {
		fv, err := decodeValue(*resp.Fault)
		if err != nil {
			return nil, err
		}
		fault, _ := fv.(map[string]any)
		code, _ := fault["faultCode"].(int64)
		str, _ := fault["faultString"].(string)
		return nil, &faultError{Code: int(code), String: str}
	}
	if len(resp.Params) == 0 {
		return nil, nil
	}
	return decodeValue(resp.Params[0])
}

func decodeValue(v xValue) (any, error) {
	switch {
	case v.Nil != nil:
		return nil, nil
	case v.Str != nil:
		return *v.Str, nil
	case v.Int != nil:
		return strconv.ParseInt(*v.Int, 10, 64)
	case v.I4 != nil:
		return strconv.ParseInt(*v.I4, 10, 64)
	case v.I8 != nil:
		return strconv.ParseInt(*v.I8, 10, 64)
	case v.Boolean != nil:
		return *v.Boolean == "1", nil
	case v.Double != nil:
		return strconv.ParseFloat(*v.Double, 64)
	case v.ISO8601 != nil:
		return time.Parse("20060102T15:04:05", *v.ISO8601)
	case v.Array != nil:
		out := make([]any, 0, len(v.Array.Values))
		for _, item := range v.Array.Values {
			d, err := decodeValue(item)
			if err != nil {
				return nil, err
			}
			out = append(out, d)
		}
		return out, nil
	case v.Struct != nil:
		out := make(map[string]any, len(v.Struct.Members))
		for _, m := range v.Struct.Members {
			d, err := decodeValue(m.Value)
			if err != nil {
				return nil, err
			}
			out[m.Name] = d
		}
		return out, nil
	default:
		// XML-RPC defines an untagged <value>text</value> as a string.
		return v.Text, nil
	}
}
