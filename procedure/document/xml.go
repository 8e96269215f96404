package document

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// xmlParameter is one <Parameter><Keyword/><Value/></Parameter> entry.
type xmlParameter struct {
	Keyword string `xml:"Keyword"`
	Value   string `xml:"Value"`
}

type xmlCommand struct {
	Command    string         `xml:"Command"`
	Parameters []xmlParameter `xml:"ParameterSet>Parameter"`
}

type xmlProcedure struct {
	XMLName  xml.Name     `xml:"ProcessingProcedure"`
	Title    string       `xml:"ProcedureTitle"`
	Commands []xmlCommand `xml:"ProcessingCommand"`
}

type xmlIntent struct {
	Keyword string `xml:"Keyword"`
	Value   string `xml:"Value"`
}

type xmlDataset struct {
	RelativePath string `xml:"RelativePath"`
	File         string `xml:"File"`
	UID          string `xml:"UID"`
}

type xmlRequest struct {
	XMLName   xml.Name      `xml:"ProcessingRequest"`
	Project   string        `xml:"ProjectSummary>ProjectCode"`
	Intents   []xmlIntent   `xml:"ProcessingIntents>Intents"`
	Procedure *xmlProcedure `xml:"ProcessingProcedure"`
	Datasets  []xmlDataset  `xml:"DataSet>Dataset"`
}

// rootElement returns the local name of the first element in data.
func rootElement(data []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(data))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}

func parseRequestXML(data []byte) (*Document, error) {
	var req xmlRequest
	if err := xml.Unmarshal(data, &req); err != nil {
		return nil, &ParseError{Reason: "malformed processing request", Err: err}
	}
	if req.Procedure == nil || len(req.Procedure.Commands) == 0 {
		return nil, &ParseError{Reason: "processing request has no commands section"}
	}
	if len(req.Datasets) == 0 {
		return nil, &ParseError{Reason: "processing request has an empty dataset manifest"}
	}

	doc := &Document{
		Kind:    KindRequest,
		Title:   strings.TrimSpace(req.Procedure.Title),
		Project: strings.TrimSpace(req.Project),
		Intents: make(map[string]string, len(req.Intents)),
		Steps:   commandsToSteps(req.Procedure.Commands),
	}
	for _, intent := range req.Intents {
		key := strings.TrimSpace(intent.Keyword)
		if key == "" {
			continue
		}
		doc.Intents[key] = strings.TrimSpace(intent.Value)
	}
	for _, ds := range req.Datasets {
		file := strings.TrimSpace(ds.File)
		if file == "" {
			return nil, &ParseError{Reason: "dataset manifest entry has no file name"}
		}
		doc.Datasets = append(doc.Datasets, Dataset{
			RelativePath: strings.TrimSpace(ds.RelativePath),
			File:         file,
			UID:          strings.TrimSpace(ds.UID),
		})
	}
	assignSessions(doc.Intents, doc.Datasets)
	return doc, nil
}

func parseRecipeXML(data []byte) (*Document, error) {
	var proc xmlProcedure
	if err := xml.Unmarshal(data, &proc); err != nil {
		return nil, &ParseError{Reason: "malformed recipe", Err: err}
	}
	if len(proc.Commands) == 0 {
		return nil, &ParseError{Reason: "recipe has no commands"}
	}
	return &Document{
		Kind:  KindRecipe,
		Title: strings.TrimSpace(proc.Title),
		Steps: commandsToSteps(proc.Commands),
	}, nil
}

func commandsToSteps(commands []xmlCommand) []Invocation {
	steps := make([]Invocation, 0, len(commands))
	for _, cmd := range commands {
		inv := Invocation{Name: cmd.Command}
		for _, p := range cmd.Parameters {
			key := strings.TrimSpace(p.Keyword)
			if key == "" {
				continue
			}
			inv.Args = append(inv.Args, Argument{Key: key, Value: ParseLiteral(p.Value)})
		}
		steps = append(steps, inv)
	}
	return normalizeSteps(steps)
}

// MarshalRecipe writes d as an XML recipe. Request metadata is not part of a
// recipe and is dropped.
func MarshalRecipe(d *Document) ([]byte, error) {
	if d == nil {
		return nil, errors.New("marshal recipe: nil document")
	}
	proc := procedureToXML(d)
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := encodeXML(&buf, proc); err != nil {
		return nil, fmt.Errorf("marshal recipe: %w", err)
	}
	return buf.Bytes(), nil
}

// MarshalRequest writes d as an XML processing request.
func MarshalRequest(d *Document) ([]byte, error) {
	if d == nil {
		return nil, errors.New("marshal request: nil document")
	}
	req := xmlRequest{
		Project:   d.Project,
		Procedure: procedureToXML(d),
	}
	for _, key := range sortedKeys(d.Intents) {
		req.Intents = append(req.Intents, xmlIntent{Keyword: key, Value: d.Intents[key]})
	}
	for _, ds := range d.Datasets {
		req.Datasets = append(req.Datasets, xmlDataset{RelativePath: ds.RelativePath, File: ds.File, UID: ds.UID})
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := encodeXML(&buf, req); err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return buf.Bytes(), nil
}

func procedureToXML(d *Document) *xmlProcedure {
	proc := &xmlProcedure{Title: d.Title}
	for _, step := range d.Steps {
		cmd := xmlCommand{Command: step.Name}
		for _, arg := range step.Args {
			cmd.Parameters = append(cmd.Parameters, xmlParameter{Keyword: arg.Key, Value: arg.Value.Literal()})
		}
		proc.Commands = append(proc.Commands, cmd)
	}
	return proc
}

func encodeXML(w io.Writer, v any) error {
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(v); err != nil {
		return err
	}
	if err := enc.Flush(); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}
