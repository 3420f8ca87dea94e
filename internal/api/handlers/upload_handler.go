package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strconv"

	"github.com/gofiber/fiber/v2"
	config "github.com/maheshrc27/postflow/configs"
	"github.com/maheshrc27/postflow/internal/service"
	"github.com/maheshrc27/postflow/internal/transfer"
	"github.com/maheshrc27/postflow/internal/upload"
)

var errSlotCount = errors.New("slot count does not match file count")

type UploadHandler struct {
	s   service.MediaService
	cfg config.Upload
}

func NewUploadHandler(s service.MediaService, cfg config.Upload) *UploadHandler {
	return &UploadHandler{s: s, cfg: cfg}
}

// Upload stores the files of one composer session one at a time and reports
// a result per slot. A failed file does not stop the rest.
func (h *UploadHandler) Upload(c *fiber.Ctx) error {
	userID := GetUserID(c)
	form, err := c.MultipartForm()
	if err != nil {
		slog.Error(err.Error())
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Unable to parse form",
		})
	}

	files := form.File["files"]
	if len(files) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No files selected",
		})
	}
	if h.cfg.MaxFiles > 0 && len(files) > h.cfg.MaxFiles {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Too many files",
		})
	}

	slots, err := parseSlots(c.FormValue("slots"), len(files))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid slots",
		})
	}

	res, err := h.runSession(c.UserContext(), userID, files, slots)
	if err != nil {
		var rf *readFileError
		if errors.As(err, &rf) {
			slog.Error(err.Error())
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
				"error": "Unable to read file " + rf.name,
			})
		}
		return errorResponse(c, err)
	}

	status := fiber.StatusOK
	if res.failed > 0 {
		status = fiber.StatusMultiStatus
	}
	return c.Status(status).JSON(fiber.Map{
		"results":    res.results,
		"media_refs": res.mediaRefs,
	})
}

type readFileError struct {
	name string
	err  error
}

func (e *readFileError) Error() string { return "read " + e.name + ": " + e.err.Error() }
func (e *readFileError) Unwrap() error { return e.err }

type sessionResult struct {
	results []transfer.UploadResult
	// mediaRefs holds the uploaded refs per list, keyed "media" for the
	// single-post list and "segment[n]" for thread segments.
	mediaRefs map[string][]string
	failed    int
}

// runSession reads every file up front, then uploads them in order through
// one session queue. Nothing is uploaded when a file cannot be read.
func (h *UploadHandler) runSession(ctx context.Context, userID int64, files []*multipart.FileHeader,
	slots []upload.Slot) (sessionResult, error) {
	data := make([][]byte, len(files))
	for i, fh := range files {
		b, err := readFile(fh)
		if err != nil {
			return sessionResult{}, &readFileError{name: fh.Filename, err: err}
		}
		data[i] = b
	}

	uploader := upload.UploaderFunc(func(ctx context.Context, task upload.Task) (string, error) {
		return h.s.Upload(ctx, userID, task.Data)
	})
	q := upload.NewQueue(ctx, uploader, upload.Options{
		SuccessDelay: h.cfg.SuccessDelay,
		FailureDelay: h.cfg.FailureDelay,
		Buffer:       3 * len(files),
	})

	board := upload.NewBoard()
	for i, fh := range files {
		id, err := q.Enqueue(upload.Task{Slot: slots[i], Name: fh.Filename, Data: data[i]})
		if err != nil {
			q.Close()
			return sessionResult{}, err
		}
		board.Queued(id, slots[i])
	}
	q.Close()

	for ev := range q.Events() {
		board.Apply(ev)
	}

	res := sessionResult{mediaRefs: make(map[string][]string), failed: board.Count(upload.StatusFailed)}
	for _, t := range board.Tasks() {
		r := transfer.UploadResult{Slot: t.Slot.String(), Status: string(t.Status), MediaRef: t.MediaRef}
		if t.Err != nil {
			r.Error = t.Err.Error()
		}
		res.results = append(res.results, r)

		key := listKey(t.Slot.Segment)
		if _, ok := res.mediaRefs[key]; !ok {
			res.mediaRefs[key] = board.MediaRefs(t.Slot.Segment)
		}
	}
	return res, nil
}

func listKey(segment int) string {
	if segment == upload.SingleList {
		return "media"
	}
	return "segment[" + strconv.Itoa(segment) + "]"
}

func (h *UploadHandler) Remove(c *fiber.Ctx) error {
	var req transfer.MediaRemoval
	if err := c.BodyParser(&req); err != nil || len(req.MediaRefs) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "No media references given",
		})
	}

	if err := h.s.Remove(c.UserContext(), GetUserID(c), req.MediaRefs); err != nil {
		return errorResponse(c, err)
	}
	return c.SendStatus(fiber.StatusOK)
}

// parseSlots reads a JSON list of {segment, index}. Without one every file
// goes to the single-post media list in order.
func parseSlots(raw string, n int) ([]upload.Slot, error) {
	if raw == "" {
		slots := make([]upload.Slot, n)
		for i := range slots {
			slots[i] = upload.Slot{Segment: upload.SingleList, Index: i}
		}
		return slots, nil
	}

	var slots []upload.Slot
	if err := json.Unmarshal([]byte(raw), &slots); err != nil {
		return nil, err
	}
	if len(slots) != n {
		return nil, errSlotCount
	}
	return slots, nil
}

func readFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}
