// Package monitoring serves the state of the translation components over
// HTTP while they run.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	// Enable profiling
	_ "net/http/pprof"
	"os"
	"runtime/pprof"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/pprof/profile"
	"github.com/gorilla/mux"
	"github.com/sarchlab/softmmu/instrumentation/id"
	"github.com/sarchlab/softmmu/mem/vm"
	"github.com/sarchlab/softmmu/mem/vm/mmu"
	"github.com/sarchlab/softmmu/mem/vm/tlb"
	"github.com/sarchlab/softmmu/monitoring/web"
	"github.com/shirou/gopsutil/process"
	"github.com/sirupsen/logrus"
	"github.com/syifan/goseth"
)

// Component is anything that the monitor can list and serialize.
type Component interface {
	Name() string
}

type registered struct {
	comp  Component
	stats func() any
	tlb   *tlb.Hierarchy
}

// Monitor turns a set of components into a server that reports their
// counters. It only reads: nothing it serves changes translation state or
// statistics.
type Monitor struct {
	log        logrus.FieldLogger
	portNumber int
	ids        id.IDGenerator

	lock       sync.RWMutex
	components []*registered

	progressBarsLock sync.Mutex
	progressBars     []*ProgressBar

	server *http.Server
}

// NewMonitor creates a new Monitor
func NewMonitor() *Monitor {
	return &Monitor{
		log: logrus.StandardLogger().WithField("component", "monitor"),
		ids: id.NewIDGenerator(),
	}
}

// WithPortNumber sets the port number of the monitor.
func (m *Monitor) WithPortNumber(portNumber int) *Monitor {
	if portNumber != 0 && portNumber < 1000 {
		m.log.Warnf("port number %d is not allowed, using a random port",
			portNumber)

		portNumber = 0
	}

	m.portNumber = portNumber

	return m
}

// WithLogger sets the logger that the monitor reports to.
func (m *Monitor) WithLogger(logger logrus.FieldLogger) *Monitor {
	m.log = logger.WithField("component", "monitor")
	return m
}

// RegisterComponent registers a component to be listed and serialized.
func (m *Monitor) RegisterComponent(c Component) {
	m.register(&registered{comp: c})
}

// RegisterStats registers a component together with a function that reports
// its counters.
func (m *Monitor) RegisterStats(c Component, stats func() any) {
	m.register(&registered{comp: c, stats: stats})
}

// RegisterHierarchy registers a TLB hierarchy. Its entries, address spaces
// and predictor can be inspected.
func (m *Monitor) RegisterHierarchy(h *tlb.Hierarchy) {
	m.register(&registered{
		comp:  h,
		stats: func() any { return h.Stats() },
		tlb:   h,
	})
}

// RegisterMMU registers an MMU and the hierarchy behind it.
func (m *Monitor) RegisterMMU(c *mmu.Comp) {
	m.register(&registered{
		comp:  c,
		stats: func() any { return c.Stats() },
	})

	m.RegisterHierarchy(c.Hierarchy())
}

func (m *Monitor) register(r *registered) {
	m.lock.Lock()
	defer m.lock.Unlock()

	for _, c := range m.components {
		if c.comp.Name() == r.comp.Name() {
			panic(fmt.Sprintf("component %s already registered",
				r.comp.Name()))
		}
	}

	m.components = append(m.components, r)
}

// CreateProgressBar creates a new progress bar.
func (m *Monitor) CreateProgressBar(name string, total uint64) *ProgressBar {
	bar := &ProgressBar{
		ID:        m.ids.Generate(),
		Name:      name,
		StartTime: time.Now(),
		Total:     total,
	}

	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	m.progressBars = append(m.progressBars, bar)

	return bar
}

// CompleteProgressBar removes a bar to be shown on the webpage.
func (m *Monitor) CompleteProgressBar(pb *ProgressBar) {
	m.progressBarsLock.Lock()
	defer m.progressBarsLock.Unlock()

	newBars := make([]*ProgressBar, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		if b != pb {
			newBars = append(newBars, b)
		}
	}

	m.progressBars = newBars
}

// Handler returns the router that serves the API and the web page. Every
// route only answers GET.
func (m *Monitor) Handler() http.Handler {
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Methods(http.MethodGet).Subrouter()

	api.HandleFunc("/list_components", m.listComponents)
	api.HandleFunc("/component/{name}", m.listComponentDetails)
	api.HandleFunc("/field/{json}", m.listFieldValue)
	api.HandleFunc("/stats/{name}", m.reportStats)
	api.HandleFunc("/tlb/{name}/entries/{level}", m.listEntries)
	api.HandleFunc("/tlb/{name}/pattern/{asid}", m.classify)
	api.HandleFunc("/tlb/{name}/address_spaces", m.listAddressSpaces)
	api.HandleFunc("/progress", m.listProgressBars)
	api.HandleFunc("/resource", m.listResources)
	api.HandleFunc("/profile", m.collectProfile)

	r.PathPrefix("/debug/pprof/").Methods(http.MethodGet).
		Handler(http.DefaultServeMux)
	r.PathPrefix("/").Methods(http.MethodGet).
		Handler(http.FileServer(web.GetAssets()))

	return r
}

// StartServer starts the monitor as a web server and returns the port that it
// listens on.
func (m *Monitor) StartServer() int {
	actualPort := ":0"
	if m.portNumber > 1000 {
		actualPort = ":" + strconv.Itoa(m.portNumber)
	}

	listener, err := net.Listen("tcp", actualPort)
	dieOnErr(err)

	port := listener.Addr().(*net.TCPAddr).Port

	fmt.Fprintf(os.Stderr,
		"Monitoring softmmu with http://localhost:%d\n", port)

	m.server = &http.Server{
		Handler:           m.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		err := m.server.Serve(listener)
		if !errors.Is(err, http.ErrServerClosed) {
			dieOnErr(err)
		}
	}()

	m.log.WithField("port", port).Info("monitor started")

	return port
}

// StopServer shuts the server down.
func (m *Monitor) StopServer(ctx context.Context) error {
	if m.server == nil {
		return nil
	}

	return m.server.Shutdown(ctx)
}

func (m *Monitor) listComponents(w http.ResponseWriter, _ *http.Request) {
	m.lock.RLock()
	names := make([]string, 0, len(m.components))
	for _, c := range m.components {
		names = append(names, c.comp.Name())
	}
	m.lock.RUnlock()

	sort.Strings(names)

	writeJSON(w, names)
}

func (m *Monitor) listComponentDetails(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	c := m.findComponentOr404(w, name)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c.comp)
	serializer.SetMaxDepth(1)
	err := serializer.Serialize(w)

	dieOnErr(err)
}

type fieldReq struct {
	CompName  string `json:"comp_name,omitempty"`
	FieldName string `json:"field_name,omitempty"`
}

func (m *Monitor) listFieldValue(w http.ResponseWriter, r *http.Request) {
	jsonString := mux.Vars(r)["json"]
	req := fieldReq{}

	err := json.Unmarshal([]byte(jsonString), &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	c := m.findComponentOr404(w, req.CompName)
	if c == nil {
		return
	}

	serializer := goseth.NewSerializer()
	serializer.SetRoot(c.comp)
	serializer.SetMaxDepth(1)

	err = serializer.SetEntryPoint(strings.Split(req.FieldName, "."))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err = serializer.Serialize(w)
	dieOnErr(err)
}

func (m *Monitor) reportStats(w http.ResponseWriter, r *http.Request) {
	c := m.findComponentOr404(w, mux.Vars(r)["name"])
	if c == nil {
		return
	}

	if c.stats == nil {
		http.Error(w, "component has no statistics", http.StatusNotFound)
		return
	}

	writeJSON(w, c.stats())
}

func (m *Monitor) findHierarchyOr404(
	w http.ResponseWriter,
	name string,
) *tlb.Hierarchy {
	c := m.findComponentOr404(w, name)
	if c == nil {
		return nil
	}

	if c.tlb == nil {
		http.Error(w, "component is not a TLB", http.StatusNotFound)
		return nil
	}

	return c.tlb
}

func (m *Monitor) listEntries(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	h := m.findHierarchyOr404(w, vars["name"])
	if h == nil {
		return
	}

	lvl, err := tlb.ParseLevel(vars["level"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries := h.Entries(lvl)

	limit, err := queryInt(r, "limit")
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if limit > 0 && limit < len(entries) {
		entries = entries[:limit]
	}

	writeJSON(w, entries)
}

type patternRsp struct {
	ASID    vm.ASID `json:"asid"`
	Pattern string  `json:"pattern"`
}

func (m *Monitor) classify(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	h := m.findHierarchyOr404(w, vars["name"])
	if h == nil {
		return
	}

	asid, err := parseASID(vars["asid"])
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	p := h.Predictor()
	if p == nil {
		http.Error(w, "prediction is disabled", http.StatusNotFound)
		return
	}

	writeJSON(w, patternRsp{ASID: asid, Pattern: p.Classify(asid).String()})
}

type addressSpaceRsp struct {
	ASID vm.ASID `json:"asid"`
	Mode string  `json:"mode"`
	Root string  `json:"root"`
}

func (m *Monitor) listAddressSpaces(w http.ResponseWriter, r *http.Request) {
	h := m.findHierarchyOr404(w, mux.Vars(r)["name"])
	if h == nil {
		return
	}

	rsp := []addressSpaceRsp{}
	for _, as := range h.AddressSpaces() {
		rsp = append(rsp, addressSpaceRsp{
			ASID: as.ASID,
			Mode: as.Mode.String(),
			Root: fmt.Sprintf("0x%x", as.Root),
		})
	}

	writeJSON(w, rsp)
}

func (m *Monitor) findComponentOr404(
	w http.ResponseWriter,
	name string,
) *registered {
	m.lock.RLock()
	defer m.lock.RUnlock()

	for _, c := range m.components {
		if c.comp.Name() == name {
			return c
		}
	}

	http.Error(w, "Component not found", http.StatusNotFound)

	return nil
}

func (m *Monitor) listProgressBars(w http.ResponseWriter, _ *http.Request) {
	m.progressBarsLock.Lock()
	bars := make([]progressBarRsp, 0, len(m.progressBars))
	for _, b := range m.progressBars {
		bars = append(bars, b.snapshot())
	}
	m.progressBarsLock.Unlock()

	writeJSON(w, bars)
}

type resourceRsp struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemorySize uint64  `json:"memory_size"`
}

func (m *Monitor) listResources(w http.ResponseWriter, _ *http.Request) {
	pid := os.Getpid()
	process, err := process.NewProcess(int32(pid))
	dieOnErr(err)

	cpuPercent, err := process.CPUPercent()
	dieOnErr(err)

	memorySize, err := process.MemoryInfo()
	dieOnErr(err)

	writeJSON(w, resourceRsp{
		CPUPercent: cpuPercent,
		MemorySize: memorySize.RSS,
	})
}

func (m *Monitor) collectProfile(w http.ResponseWriter, _ *http.Request) {
	buf := bytes.NewBuffer(nil)

	err := pprof.StartCPUProfile(buf)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	time.Sleep(time.Second)

	pprof.StopCPUProfile()

	prof, err := profile.ParseData(buf.Bytes())
	dieOnErr(err)

	writeJSON(w, prof)
}

func writeJSON(w http.ResponseWriter, v any) {
	bytes, err := json.Marshal(v)
	dieOnErr(err)

	w.Header().Set("Content-Type", "application/json")

	_, err = w.Write(bytes)
	if err != nil {
		logrus.WithError(err).Debug("monitor response dropped")
	}
}

func queryInt(r *http.Request, key string) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return 0, nil
	}

	return strconv.Atoi(s)
}

func parseASID(s string) (vm.ASID, error) {
	n, err := strconv.ParseUint(s, 0, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid asid %q: %w", s, err)
	}

	return vm.ASID(n), nil
}

func dieOnErr(err error) {
	if err != nil {
		logrus.Panic(err)
	}
}
