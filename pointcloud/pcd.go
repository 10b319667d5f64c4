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

// PCDType is the format of a pcd file.
type PCDType int

const (
	// PCDAscii ascii format for pcd.
	PCDAscii PCDType = 0
	// PCDBinary binary format for pcd.
	PCDBinary PCDType = 1
	// PCDCompressed binary format for pcd.
	PCDCompressed PCDType = 2
)

func _colorToPCDInt(pt Data) int {
	if pt == nil || !pt.HasColor() {
		return 255 << 16
	}

	r, g, b := pt.RGB255()
	x := 0

	x |= (int(r) << 16)
	x |= (int(g) << 8)
	x |= (int(b) << 0)
	return x
}

func _pcdIntToColor(c int) color.NRGBA {
	r := uint8(0xFF & (c >> 16))
	g := uint8(0xFF & (c >> 8))
	b := uint8(0xFF & (c >> 0))
	return color.NRGBA{r, g, b, 255}
}

type pcdFieldType int

const (
	pcdPointOnly        pcdFieldType = 3
	pcdPointColor       pcdFieldType = 4
	pcdPointNormal      pcdFieldType = 7
	pcdPointColorNormal pcdFieldType = 8
)

func pcdFields(meta MetaData) (pcdFieldType, string) {
	switch {
	case meta.HasColor && meta.HasNormal:
		return pcdPointColorNormal, "x y z rgb normal_x normal_y normal_z curvature"
	case meta.HasColor:
		return pcdPointColor, "x y z rgb"
	case meta.HasNormal:
		return pcdPointNormal, "x y z normal_x normal_y normal_z curvature"
	default:
		return pcdPointOnly, "x y z"
	}
}

func pcdTypeLine(fields pcdFieldType) string {
	types := make([]string, int(fields))
	for i := range types {
		types[i] = "F"
	}
	if fields == pcdPointColor || fields == pcdPointColorNormal {
		types[3] = "I"
	}
	return strings.Join(types, " ")
}

func repeatField(s string, n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = s
	}
	return strings.Join(parts, " ")
}

// ToPCD writes out a point cloud to a PCD file of the specified type.
func ToPCD(cloud PointCloud, out io.Writer, outputType PCDType) error {
	fields, fieldsLine := pcdFields(cloud.MetaData())

	var err error
	_, err = fmt.Fprintf(out, "VERSION .7\n"+
		"FIELDS %s\n"+
		"SIZE %s\n"+
		"TYPE %s\n"+
		"COUNT %s\n",
		fieldsLine,
		repeatField("4", int(fields)),
		pcdTypeLine(fields),
		repeatField("1", int(fields)),
	)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "WIDTH %d\n"+
		"HEIGHT %d\n"+
		"VIEWPOINT 0 0 0 1 0 0 0\n"+
		"POINTS %d\n",
		cloud.Size(),
		1,
		cloud.Size())
	if err != nil {
		return err
	}

	switch outputType {
	case PCDBinary:
		_, err = fmt.Fprintf(out, "DATA binary\n")
	case PCDAscii:
		_, err = fmt.Fprintf(out, "DATA ascii\n")
	case PCDCompressed:
		return errors.New("compressed PCD not yet implemented")
	}
	if err != nil {
		return err
	}
	return writePCDData(cloud, out, outputType, fields)
}

func pcdPointValues(pos r3.Vector, d Data, fields pcdFieldType) []float64 {
	// positions are converted from mm to meters on disk
	values := []float64{pos.X / 1000., pos.Y / 1000., pos.Z / 1000.}
	if fields == pcdPointColor || fields == pcdPointColorNormal {
		values = append(values, float64(_colorToPCDInt(d)))
	}
	if fields == pcdPointNormal || fields == pcdPointColorNormal {
		var n r3.Vector
		var curvature float64
		if d != nil && d.HasNormal() {
			n = d.Normal()
			curvature = d.Curvature()
		}
		values = append(values, n.X, n.Y, n.Z, curvature)
	}
	return values
}

func writePCDData(cloud PointCloud, out io.Writer, pcdtype PCDType, fields pcdFieldType) error {
	var err error
	cloud.Iterate(0, 0, func(pos r3.Vector, d Data) bool {
		values := pcdPointValues(pos, d, fields)
		switch pcdtype {
		case PCDBinary:
			buf := make([]byte, 4*len(values))
			for i, v := range values {
				if i == 3 && (fields == pcdPointColor || fields == pcdPointColorNormal) {
					binary.LittleEndian.PutUint32(buf[4*i:], uint32(int(v)))
					continue
				}
				binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
			}
			_, err = out.Write(buf)
		case PCDAscii:
			strs := make([]string, 0, len(values))
			for i, v := range values {
				if i == 3 && (fields == pcdPointColor || fields == pcdPointColorNormal) {
					strs = append(strs, strconv.Itoa(int(v)))
					continue
				}
				strs = append(strs, strconv.FormatFloat(v, 'f', -1, 32))
			}
			_, err = fmt.Fprintln(out, strings.Join(strs, " "))
		case PCDCompressed:
			err = errors.New("compressed PCD not yet implemented")
		}
		return err == nil
	})
	return err
}

func readFloat(n uint32) float64 {
	f := float64(math.Float32frombits(n))
	return math.Round(f*10000) / 10000
}

type pcdHeader struct {
	fields pcdFieldType
	size   []uint64
	width  uint64
	height uint64
	points uint64
	data   PCDType
}

const pcdCommentChar = "#"

var pcdHeaderFields = []string{"VERSION", "FIELDS", "SIZE", "TYPE", "COUNT", "WIDTH", "HEIGHT", "VIEWPOINT", "POINTS", "DATA"}

func parsePCDHeaderLine(line string, index int, header *pcdHeader) error {
	var err error
	name := pcdHeaderFields[index]
	field, value, _ := strings.Cut(line, " ")
	tokens := strings.Split(value, " ")
	if field != name {
		return errors.Errorf("line is supposed to start with %s but is %s", name, line)
	}

	switch name {
	case "VERSION":
		if value != ".7" {
			return errors.Errorf("unsupported pcd version %s", value)
		}
	case "FIELDS":
		switch value {
		case "x y z":
			header.fields = pcdPointOnly
		case "x y z rgb":
			header.fields = pcdPointColor
		case "x y z normal_x normal_y normal_z curvature":
			header.fields = pcdPointNormal
		case "x y z rgb normal_x normal_y normal_z curvature":
			header.fields = pcdPointColorNormal
		default:
			return errors.Errorf("unsupported pcd fields %s", value)
		}
	case "SIZE":
		if len(tokens) != int(header.fields) {
			return errors.New("unexpected number of fields in SIZE line")
		}
		header.size = make([]uint64, len(tokens))
		for i, token := range tokens {
			header.size[i], err = strconv.ParseUint(token, 10, 64)
			if err != nil {
				return errors.Errorf("invalid SIZE field %s", token)
			}
			// the binary reader decodes every field as 4 bytes
			if header.size[i] != 4 {
				return errors.Errorf("unsupported SIZE %d, only 4-byte fields are supported", header.size[i])
			}
		}
	case "TYPE", "COUNT":
		if len(tokens) != int(header.fields) {
			return errors.Errorf("unexpected number of fields in %s line", name)
		}
	case "WIDTH":
		header.width, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid WIDTH field %s: %s", value, err)
		}
	case "HEIGHT":
		header.height, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid HEIGHT field %s: %s", value, err)
		}
	case "VIEWPOINT":
		if len(tokens) != 7 {
			return errors.Errorf("unexpected number of fields in VIEWPOINT line. Expected 7, got %d", len(tokens))
		}
	case "POINTS":
		var points uint64
		points, err = strconv.ParseUint(value, 10, 64)
		if err != nil {
			return errors.Errorf("invalid POINTS field %s: %s", value, err)
		}
		if points != header.width*header.height {
			return errors.Errorf("POINTS field %d does not match WIDTH*HEIGHT %d", points, header.width*header.height)
		}
		header.points = points
	case "DATA":
		switch value {
		case "ascii":
			header.data = PCDAscii
		case "binary":
			header.data = PCDBinary
		case "binary_compressed":
			header.data = PCDCompressed
		default:
			return errors.Errorf("unsupported pcd data type %s", value)
		}
	}

	return nil
}

// ReadPCD reads a PCD file into a pointcloud.
func ReadPCD(inRaw io.Reader) (PointCloud, error) {
	header := pcdHeader{}
	in := bufio.NewReader(inRaw)
	var line string
	var err error
	headerLineCount := 0
	for headerLineCount < len(pcdHeaderFields) {
		line, err = in.ReadString('\n')
		if err != nil {
			return nil, errors.Errorf("error reading header line %d: %s", headerLineCount, err)
		}
		line, _, _ = strings.Cut(line, pcdCommentChar)
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if err := parsePCDHeaderLine(line, headerLineCount, &header); err != nil {
			return nil, err
		}
		headerLineCount++
	}
	switch header.data {
	case PCDAscii:
		return readPCDAscii(in, header)
	case PCDBinary:
		return readPCDBinary(in, header)
	case PCDCompressed:
		return nil, errors.New("compressed pcd not yet supported")
	default:
		return nil, errors.Errorf("unsupported pcd data type %v", header.data)
	}
}

func readPCDAscii(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	for i := 0; i < int(header.points); i++ {
		line, err := in.ReadString('\n')
		if err != nil {
			return nil, err
		}
		line = strings.TrimSpace(line)
		tokens := strings.Split(line, " ")
		if len(tokens) != int(header.fields) {
			return nil, errors.Errorf("unexpected number of fields in point %d", i)
		}
		point := make([]float64, len(tokens))
		for j, token := range tokens {
			point[j], err = strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, errors.Errorf("invalid point %d field %s: %s", i, token, err)
			}
		}
		pos, data, err := readSliceToPoint(point, header)
		if err != nil {
			return nil, err
		}
		if err := pc.Set(pos, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readPCDBinary(in *bufio.Reader, header pcdHeader) (PointCloud, error) {
	pc := NewWithPrealloc(int(header.points))
	colorField := header.fields == pcdPointColor || header.fields == pcdPointColorNormal
	for i := 0; i < int(header.points); i++ {
		pointBuf := make([]float64, int(header.fields))
		for j := 0; j < int(header.fields); j++ {
			buf := make([]byte, header.size[j])
			if _, err := io.ReadFull(in, buf); err != nil {
				return nil, err
			}
			bits := binary.LittleEndian.Uint32(buf)
			if j == 3 && colorField {
				pointBuf[j] = float64(int32(bits))
				continue
			}
			pointBuf[j] = readFloat(bits)
		}
		pos, data, err := readSliceToPoint(pointBuf, header)
		if err != nil {
			return nil, err
		}
		if err := pc.Set(pos, data); err != nil {
			return nil, err
		}
	}
	return pc, nil
}

func readSliceToPoint(slice []float64, header pcdHeader) (r3.Vector, Data, error) {
	pos := r3.Vector{X: 1000. * slice[0], Y: 1000. * slice[1], Z: 1000. * slice[2]}
	switch header.fields {
	case pcdPointOnly:
		return pos, NewBasicData(), nil
	case pcdPointColor:
		return pos, NewColoredData(_pcdIntToColor(int(slice[3]))), nil
	case pcdPointNormal:
		d := NewNormalData(r3.Vector{X: slice[3], Y: slice[4], Z: slice[5]})
		d.SetCurvature(slice[6])
		return pos, d, nil
	case pcdPointColorNormal:
		d := NewColoredData(_pcdIntToColor(int(slice[3])))
		d.SetNormal(r3.Vector{X: slice[4], Y: slice[5], Z: slice[6]})
		d.SetCurvature(slice[7])
		return pos, d, nil
	default:
		return r3.Vector{}, nil, errors.Errorf("unsupported pcd field type %d", header.fields)
	}
}

// SaveToPCDFile writes the cloud to the named PCD file, creating or
// truncating it.
func SaveToPCDFile(cloud PointCloud, fn string, outputType PCDType) (err error) {
	//nolint:gosec
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	w := bufio.NewWriter(f)
	if err = ToPCD(cloud, w, outputType); err != nil {
		return err
	}
	return w.Flush()
}

// NewFromPCDFile returns a pointcloud read in from the named PCD file.
func NewFromPCDFile(fn string) (_ PointCloud, err error) {
	//nolint:gosec
	f, err := os.Open(fn)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Combine(err, f.Close())
	}()
	return ReadPCD(f)
}
