// Package directory maintains a cached view of a controller's tag and
// program list, built from the Symbol Object's Get_Instance_Attribute_List
// service, with the pagination and name/type parsing the donor driver's
// listSymbols family used — generalized here into a refreshable cache
// instead of a one-shot list.
package directory

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"
	"sync"

	"goenip/cip"
	"goenip/eip"
	"goenip/logging"

	"go.uber.org/zap"
)

// maxPages bounds the pagination loop against a controller that never
// reports a terminal page.
const maxPages = 1000

// RequestSender is the subset of *session.Session the directory needs. It
// is expressed as an interface so the directory can be tested against a
// fake without a live socket.
type RequestSender interface {
	SendRRData(ctx context.Context, packet eip.CommonPacket) (eip.CommonPacket, error)
}

// Entry is one cached Symbol Object instance.
type Entry struct {
	Name       string
	TypeCode   uint16
	Instance   uint32
	Dimensions []int
}

// IsProgram reports whether Name is a program entry ("Program:Name" with no
// further dot), rather than a program-scoped tag.
func (e Entry) IsProgram() bool {
	if !strings.HasPrefix(e.Name, "Program:") {
		return false
	}
	return !strings.Contains(e.Name[len("Program:"):], ".")
}

// ElementCount returns the total element count: 1 for scalars, the product
// of Dimensions for arrays.
func (e Entry) ElementCount() int {
	if len(e.Dimensions) == 0 {
		return 1
	}
	count := 1
	for _, d := range e.Dimensions {
		if d > 0 {
			count *= d
		}
	}
	if count < 1 {
		return 1
	}
	return count
}

// SchemaChangedError reports that a Refresh observed a tag whose type code
// changed since the last discovery, which invalidates anything a caller may
// have cached about that tag's shape.
type SchemaChangedError struct {
	Name     string
	OldType  uint16
	NewType  uint16
}

func (e *SchemaChangedError) Error() string {
	return fmt.Sprintf("directory: tag %s changed type from 0x%04X to 0x%04X", e.Name, e.OldType, e.NewType)
}

// Directory caches a controller's Symbol Object enumeration.
type Directory struct {
	sess RequestSender
	log  *zap.Logger

	mu   sync.RWMutex
	tags map[string]Entry
}

// New creates a Directory that queries sess on Discover/Refresh.
func New(sess RequestSender) *Directory {
	return &Directory{sess: sess, log: logging.L("directory"), tags: make(map[string]Entry)}
}

// Discover performs a full controller-scope and program-scope enumeration,
// replacing any previously cached entries.
func (d *Directory) Discover(ctx context.Context) error {
	fresh, err := d.discoverAll(ctx)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.tags = fresh
	d.mu.Unlock()
	return nil
}

// Refresh re-enumerates the controller and merges the result into the
// cache. If any previously known tag now reports a different type code, the
// new cache is still installed (the controller's program was reloaded) but
// the first such conflict is returned as a *SchemaChangedError so the
// caller can invalidate anything built from the old shape.
func (d *Directory) Refresh(ctx context.Context) error {
	fresh, err := d.discoverAll(ctx)
	if err != nil {
		return err
	}

	d.mu.Lock()
	old := d.tags
	d.tags = fresh
	d.mu.Unlock()

	for name, newEntry := range fresh {
		if oldEntry, ok := old[name]; ok && oldEntry.TypeCode != newEntry.TypeCode {
			return &SchemaChangedError{Name: name, OldType: oldEntry.TypeCode, NewType: newEntry.TypeCode}
		}
	}
	return nil
}

func (d *Directory) discoverAll(ctx context.Context) (map[string]Entry, error) {
	tags := make(map[string]Entry)

	controllerTags, err := d.listSymbols(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("directory: discovering controller scope: %w", err)
	}
	for _, t := range controllerTags {
		tags[t.Name] = t
	}

	var programs []string
	for _, t := range controllerTags {
		if t.IsProgram() {
			programs = append(programs, strings.TrimPrefix(t.Name, "Program:"))
		}
	}

	for _, prog := range programs {
		progTags, err := d.listSymbols(ctx, prog)
		if err != nil {
			return nil, fmt.Errorf("directory: discovering program %s: %w", prog, err)
		}
		for _, t := range progTags {
			tags["Program:"+prog+"."+t.Name] = t
		}
	}

	return tags, nil
}

// Get returns the cached entry for name, if known.
func (d *Directory) Get(name string) (Entry, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	e, ok := d.tags[name]
	return e, ok
}

// Invalidate clears the entire cache; the next Get will see nothing until
// Discover or Refresh runs again.
func (d *Directory) Invalidate() {
	d.mu.Lock()
	d.tags = make(map[string]Entry)
	d.mu.Unlock()
}

// Programs returns every cached program name (without the "Program:"
// prefix), in no particular order.
func (d *Directory) Programs() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for name, e := range d.tags {
		if e.IsProgram() {
			p := strings.TrimPrefix(name, "Program:")
			if !seen[p] {
				seen[p] = true
				out = append(out, p)
			}
		}
	}
	return out
}

// Tags returns every cached tag in the given scope ("" for controller
// scope, or a program name for that program's local tags).
func (d *Directory) Tags(scope string) []Entry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var out []Entry
	prefix := ""
	if scope != "" {
		prefix = "Program:" + scope + "."
	}
	for name, e := range d.tags {
		if e.IsProgram() {
			continue
		}
		if scope == "" {
			if !strings.HasPrefix(name, "Program:") {
				out = append(out, e)
			}
		} else if strings.HasPrefix(name, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// listSymbols runs the full pagination loop for one scope ("" for
// controller scope, or a program name).
func (d *Directory) listSymbols(ctx context.Context, scope string) ([]Entry, error) {
	var all []Entry
	instance := uint32(0)

	for page := 0; page < maxPages; page++ {
		entries, lastInstance, more, err := d.listSymbolsPage(ctx, scope, instance)
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
		if !more || len(entries) == 0 {
			break
		}
		instance = lastInstance + 1
	}

	return all, nil
}

// getInstanceAttributeListData is the Get_Instance_Attribute_List
// attribute-id list this driver requests for every symbol: name (1), type
// (2), byte count (8) — matching the donor driver's pylogix-compatible
// selection, which is enough to size arrays without a second round trip.
var getInstanceAttributeListData = []byte{
	0x03, 0x00,
	0x01, 0x00,
	0x02, 0x00,
	0x08, 0x00,
}

func (d *Directory) listSymbolsPage(ctx context.Context, scope string, startInstance uint32) (entries []Entry, lastInstance uint32, more bool, err error) {
	path, err := symbolPath(scope, startInstance)
	if err != nil {
		return nil, 0, false, err
	}

	req := cip.Request{Service: cip.SvcGetInstanceAttributeList, Path: path, Data: getInstanceAttributeListData}
	reqBytes, err := req.Marshal()
	if err != nil {
		return nil, 0, false, err
	}

	packet := eip.NewUnconnectedRequest(reqBytes)
	respPacket, err := d.sess.SendRRData(ctx, packet)
	if err != nil {
		return nil, 0, false, err
	}
	data, ok := respPacket.UnconnectedData()
	if !ok {
		return nil, 0, false, fmt.Errorf("directory: response carried no unconnected data item")
	}
	resp, err := cip.ParseResponse(data)
	if err != nil {
		return nil, 0, false, err
	}

	more = resp.GeneralStatus == cip.StatusPartialTransfer
	if resp.GeneralStatus != cip.StatusSuccess && !more {
		return nil, 0, false, resp.Err()
	}

	entries, lastInstance = parseSymbolList(resp.Data)
	return entries, lastInstance, more, nil
}

func symbolPath(scope string, startInstance uint32) (cip.EncodedPath, error) {
	if scope == "" {
		return symbolInstancePath(startInstance)
	}
	// Program-scoped enumeration addresses the Symbol Object through the
	// program's symbolic segment, matching how a program-scoped tag read
	// is path-prefixed.
	tp, err := cip.Parse("Program:" + scope + ".placeholder")
	if err != nil {
		return cip.EncodedPath{}, err
	}
	progPath, err := cip.Encode(cip.TagPath{Steps: tp.Steps[:1]})
	if err != nil {
		return cip.EncodedPath{}, err
	}
	rest, err := symbolInstancePath(startInstance)
	if err != nil {
		return cip.EncodedPath{}, err
	}
	return cip.EncodedPath{Bytes: append(append([]byte(nil), progPath.Bytes...), rest.Bytes...)}, nil
}

func symbolInstancePath(startInstance uint32) (cip.EncodedPath, error) {
	if startInstance > 0xFFFF {
		return cip.EncodedPath{}, fmt.Errorf("directory: start instance %d exceeds 16-bit maximum", startInstance)
	}
	if startInstance <= 0xFF {
		return cip.NewObjectPath(cip.ClassSymbolObject, byte(startInstance))
	}
	return newSymbolPath16(startInstance)
}

func newSymbolPath16(instance uint32) (cip.EncodedPath, error) {
	// Class (8-bit logical segment) + Instance (16-bit logical segment),
	// built directly since object paths only need an 8-bit class here.
	out := []byte{0x20, cip.ClassSymbolObject, 0x29, 0x00}
	out = binary.LittleEndian.AppendUint16(out, uint16(instance))
	return cip.EncodedPath{Bytes: out}, nil
}

// parseSymbolList parses the Get_Instance_Attribute_List reply body. Each
// entry is instance(u16) + reserved(u16) + name_len(u16) + name +
// type_code(u16) + array_size(u16), followed by further per-instance
// metadata this driver doesn't use; the entry as a whole is nameLen+20
// bytes, a layout carried over from the donor driver's pylogix-compatible
// parser.
func parseSymbolList(data []byte) (entries []Entry, lastInstance uint32) {
	i := 0
	for i+8 <= len(data) {
		instance := uint32(binary.LittleEndian.Uint16(data[i : i+2]))
		nameLen := int(binary.LittleEndian.Uint16(data[i+4 : i+6]))
		entrySize := nameLen + 20
		if i+entrySize > len(data) {
			break
		}
		entry := data[i : i+entrySize]
		name := string(entry[6 : 6+nameLen])
		typeCode := binary.LittleEndian.Uint16(entry[6+nameLen : 8+nameLen])
		arraySize := binary.LittleEndian.Uint16(entry[8+nameLen : 10+nameLen])

		i += entrySize
		if name == "" || instance == 0 {
			continue
		}

		var dims []int
		if typeCode&cip.ArrayDimensionMask != 0 && arraySize > 0 {
			dims = []int{int(arraySize)}
		}

		entries = append(entries, Entry{Name: name, TypeCode: typeCode, Instance: instance, Dimensions: dims})
		lastInstance = instance
	}
	return entries, lastInstance
}
