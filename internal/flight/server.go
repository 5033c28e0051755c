package flight

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/23skdu/attnscope/internal/artifact"
	"github.com/23skdu/attnscope/internal/logger"
)

// DefaultPort is the Flight port used when an address has none.
const DefaultPort = 3000

// ArtifactServer serves Arrow IPC artifacts from a directory. The ticket of
// a DoGet is the artifact file name.
type ArtifactServer struct {
	flight.BaseFlightServer

	dir string
	mem memory.Allocator
}

func NewArtifactServer(dir string) *ArtifactServer {
	return &ArtifactServer{dir: dir, mem: memory.DefaultAllocator}
}

// NewServer wraps an ArtifactServer in a gRPC Flight server. Call Init with
// a listen address, then Serve.
func NewServer(svc *ArtifactServer) flight.Server {
	srv := flight.NewServerWithMiddleware(nil)
	srv.RegisterFlightService(svc)
	return srv
}

func (s *ArtifactServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	name := string(tkt.GetTicket())
	_, model, f, ok := artifact.Describe(name)
	if !ok || f != artifact.FormatArrow {
		return status.Errorf(codes.InvalidArgument, "not an arrow artifact name: %q", name)
	}

	file, err := os.Open(filepath.Join(s.dir, name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return status.Errorf(codes.NotFound, "artifact %s not found", name)
		}
		return status.Errorf(codes.Internal, "open %s: %v", name, err)
	}
	defer file.Close()

	rdr, err := ipc.NewReader(file, ipc.WithAllocator(s.mem))
	if err != nil {
		return status.Errorf(codes.Internal, "read %s: %v", name, err)
	}
	defer rdr.Release()

	w := flight.NewRecordWriter(stream, ipc.WithSchema(rdr.Schema()), ipc.WithAllocator(s.mem))
	defer w.Close()

	batches := 0
	for rdr.Next() {
		if err := w.Write(rdr.Record()); err != nil {
			return status.Errorf(codes.Internal, "stream %s: %v", name, err)
		}
		batches++
	}
	if err := rdr.Err(); err != nil {
		return status.Errorf(codes.Internal, "read %s: %v", name, err)
	}
	logger.Log.Debug("Served artifact", "name", name, "model", model, "batches", batches)
	return nil
}

// ListFlights reports every Arrow artifact in the directory, one flight per
// file, sorted by name.
func (s *ArtifactServer) ListFlights(_ *flight.Criteria, stream flight.FlightService_ListFlightsServer) error {
	names, err := s.artifacts()
	if err != nil {
		return status.Errorf(codes.Internal, "list %s: %v", s.dir, err)
	}
	for _, name := range names {
		info := &flight.FlightInfo{
			FlightDescriptor: &flight.FlightDescriptor{Type: flight.DescriptorPATH, Path: []string{name}},
			Endpoint:         []*flight.FlightEndpoint{{Ticket: &flight.Ticket{Ticket: []byte(name)}}},
			TotalRecords:     -1,
			TotalBytes:       -1,
		}
		if st, err := os.Stat(filepath.Join(s.dir, name)); err == nil {
			info.TotalBytes = st.Size()
		}
		if err := stream.Send(info); err != nil {
			return err
		}
	}
	return nil
}

func (s *ArtifactServer) artifacts() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if _, _, f, ok := artifact.Describe(e.Name()); ok && f == artifact.FormatArrow {
			names = append(names, e.Name())
		}
	}
	slices.Sort(names)
	return names, nil
}
