package pointcloud

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"image/color"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

// Mesh is a triangulated surface over a point cloud: a vertex buffer in
// iteration order plus a face index list, three indices per triangle.
type Mesh struct {
	Vertices []PointAndData
	Faces    [][3]uint32
}

// VertexCount returns the number of vertices in the mesh.
func (m *Mesh) VertexCount() int {
	return len(m.Vertices)
}

// FaceCount returns the number of triangles in the mesh.
func (m *Mesh) FaceCount() int {
	return len(m.Faces)
}

// ToPLY writes the mesh to a PLY file, ascii or binary little-endian per the
// flag. Vertex normals and colors are written when present in the metadata.
func (m *Mesh) ToPLY(out io.Writer, binaryFormat bool, meta MetaData) error {
	format := "ascii"
	if binaryFormat {
		format = "binary_little_endian"
	}
	var header strings.Builder
	header.WriteString("ply\n")
	fmt.Fprintf(&header, "format %s 1.0\n", format)
	fmt.Fprintf(&header, "element vertex %d\n", len(m.Vertices))
	header.WriteString("property float x\nproperty float y\nproperty float z\n")
	if meta.HasNormal {
		header.WriteString("property float nx\nproperty float ny\nproperty float nz\n")
	}
	if meta.HasColor {
		header.WriteString("property uchar red\nproperty uchar green\nproperty uchar blue\n")
	}
	fmt.Fprintf(&header, "element face %d\n", len(m.Faces))
	header.WriteString("property list uchar uint vertex_indices\n")
	header.WriteString("end_header\n")
	if _, err := io.WriteString(out, header.String()); err != nil {
		return err
	}

	for _, v := range m.Vertices {
		if err := writePLYVertex(out, v, binaryFormat, meta); err != nil {
			return err
		}
	}
	for _, f := range m.Faces {
		if err := writePLYFace(out, f, binaryFormat); err != nil {
			return err
		}
	}
	return nil
}

func writePLYVertex(out io.Writer, v PointAndData, binaryFormat bool, meta MetaData) error {
	// positions are converted from mm to meters on disk
	values := []float64{v.P.X / 1000., v.P.Y / 1000., v.P.Z / 1000.}
	if meta.HasNormal {
		var n r3.Vector
		if v.D != nil && v.D.HasNormal() {
			n = v.D.Normal()
		}
		values = append(values, n.X, n.Y, n.Z)
	}
	var r, g, b uint8 = 255, 255, 255
	if meta.HasColor && v.D != nil && v.D.HasColor() {
		r, g, b = v.D.RGB255()
	}

	if binaryFormat {
		buf := make([]byte, 0, 4*len(values)+3)
		for _, val := range values {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(val)))
		}
		if meta.HasColor {
			buf = append(buf, r, g, b)
		}
		_, err := out.Write(buf)
		return err
	}

	strs := make([]string, 0, len(values)+3)
	for _, val := range values {
		strs = append(strs, strconv.FormatFloat(val, 'f', -1, 32))
	}
	if meta.HasColor {
		strs = append(strs, strconv.Itoa(int(r)), strconv.Itoa(int(g)), strconv.Itoa(int(b)))
	}
	_, err := fmt.Fprintln(out, strings.Join(strs, " "))
	return err
}

func writePLYFace(out io.Writer, f [3]uint32, binaryFormat bool) error {
	if binaryFormat {
		buf := make([]byte, 0, 13)
		buf = append(buf, 3)
		for _, idx := range f {
			buf = binary.LittleEndian.AppendUint32(buf, idx)
		}
		_, err := out.Write(buf)
		return err
	}
	_, err := fmt.Fprintf(out, "3 %d %d %d\n", f[0], f[1], f[2])
	return err
}

// SaveMeshToPLYFile writes the mesh to the named PLY file.
func SaveMeshToPLYFile(m *Mesh, meta MetaData, fn string, binaryFormat bool) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err = m.ToPLY(w, binaryFormat, meta); err != nil {
		return err
	}
	return w.Flush()
}

// NewFromPLYFile returns the vertices of the named PLY file as a
// pointcloud. Face data is ignored.
func NewFromPLYFile(fn string) (_ PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPLY(f)
}

type plyHeader struct {
	binaryFormat bool
	vertexCount  int
	faceCount    int
	properties   []string
}

func parsePLYHeader(in *bufio.Reader) (*plyHeader, error) {
	magic, err := in.ReadString('\n')
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(magic) != "ply" {
		return nil, errors.New("not a ply file")
	}
	header := &plyHeader{}
	element := ""
	for {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		tokens := strings.Fields(line)
		if len(tokens) == 0 || tokens[0] == "comment" {
			continue
		}
		switch tokens[0] {
		case "format":
			switch tokens[1] {
			case "ascii":
				header.binaryFormat = false
			case "binary_little_endian":
				header.binaryFormat = true
			default:
				return nil, errors.Errorf("unsupported ply format %s", tokens[1])
			}
		case "element":
			if len(tokens) != 3 {
				return nil, errors.Errorf("malformed element line %q", line)
			}
			element = tokens[1]
			count, err := strconv.Atoi(tokens[2])
			if err != nil {
				return nil, err
			}
			switch element {
			case "vertex":
				header.vertexCount = count
			case "face":
				header.faceCount = count
			default:
				return nil, errors.Errorf("unsupported ply element %s", element)
			}
		case "property":
			if element == "vertex" && tokens[1] != "list" {
				header.properties = append(header.properties, tokens[len(tokens)-1])
			}
		case "end_header":
			return header, nil
		}
	}
}

// ReadPLY reads the vertex element of a PLY file into a pointcloud. Faces,
// if any, are skipped; LoadMap round-trips points only.
func ReadPLY(inRaw io.Reader) (PointCloud, error) {
	in := bufio.NewReader(inRaw)
	header, err := parsePLYHeader(in)
	if err != nil {
		return nil, err
	}

	propIdx := make(map[string]int, len(header.properties))
	for i, p := range header.properties {
		propIdx[p] = i
	}
	for _, req := range []string{"x", "y", "z"} {
		if _, ok := propIdx[req]; !ok {
			return nil, errors.Errorf("ply file is missing vertex property %s", req)
		}
	}
	_, hasNormal := propIdx["nx"]
	_, hasColor := propIdx["red"]

	pc := NewWithPrealloc(header.vertexCount)
	for i := 0; i < header.vertexCount; i++ {
		values, err := readPLYVertex(in, header)
		if err != nil {
			return nil, err
		}
		pos := r3.Vector{
			X: 1000. * values[propIdx["x"]],
			Y: 1000. * values[propIdx["y"]],
			Z: 1000. * values[propIdx["z"]],
		}
		d := NewBasicData()
		if hasNormal {
			d.SetNormal(r3.Vector{X: values[propIdx["nx"]], Y: values[propIdx["ny"]], Z: values[propIdx["nz"]]})
		}
		if hasColor {
			d.SetColor(color.NRGBA{
				R: uint8(values[propIdx["red"]]),
				G: uint8(values[propIdx["green"]]),
				B: uint8(values[propIdx["blue"]]),
				A: 255,
			})
		}
		if err := pc.Set(pos, d); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPLYVertex(in *bufio.Reader, header *plyHeader) ([]float64, error) {
	values := make([]float64, len(header.properties))
	if header.binaryFormat {
		for i, p := range header.properties {
			if p == "red" || p == "green" || p == "blue" {
				b, err := in.ReadByte()
				if err != nil {
					return nil, err
				}
				values[i] = float64(b)
				continue
			}
			var buf [4]byte
			if _, err := io.ReadFull(in, buf[:]); err != nil {
				return nil, err
			}
			values[i] = readFloat(binary.LittleEndian.Uint32(buf[:]))
		}
		return values, nil
	}
	line, err := in.ReadString('\n')
	if err != nil {
		return nil, err
	}
	tokens := strings.Fields(strings.TrimSpace(line))
	if len(tokens) != len(header.properties) {
		return nil, errors.Errorf("expected %d vertex properties, got %d", len(header.properties), len(tokens))
	}
	for i, token := range tokens {
		values[i], err = strconv.ParseFloat(token, 64)
		if err != nil {
			return nil, err
		}
	}
	return values, nil
}
