// client.go implements the DashScope API client: job submission for each
// generation surface, status queries, file upload, and artifact download.
package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/sirupsen/logrus"
)

// JobKind selects the generation surface a JobSpec is submitted to.
type JobKind string

const (
	JobImageToVideo   JobKind = "image_to_video"
	JobTextToImage    JobKind = "text_to_image"
	JobImageEdit      JobKind = "image_edit"
	JobKeyframeVideo  JobKind = "keyframe_to_video"
	JobReferenceVideo JobKind = "reference_to_video"
)

// JobSpec carries everything needed to submit one remote job. Which fields
// matter depends on the kind; unset optional fields are simply omitted from
// the request.
type JobSpec struct {
	Kind           JobKind
	Prompt         string
	NegativePrompt string
	Model          string
	Resolution     string // video jobs: 480P/720P/1080P
	Size           string // image jobs and wan2.6-r2v: e.g. "1280*720"
	PromptExtend   bool
	Duration       int    // video length in seconds, 0 means the API default
	ShotType       string // wan2.6 only: "multi" or "single"
	Audio          bool   // reference-video synthesis: generate audio
	N              int    // image count for image jobs, 0 means 1
	Seed           int64  // 0 means unseeded
	InputFiles     []string
}

// JobStatus is one query result for a remote job.
type JobStatus struct {
	Status      Status
	ArtifactURL string
	Message     string
	Code        string
}

// JobClient is the remote side the engine drives. Query is idempotent and
// side-effect-free, so it may be called any number of times. Submit is not:
// the registry calls it at most once per task.
type JobClient interface {
	Submit(ctx context.Context, spec JobSpec) (string, error)
	Query(ctx context.Context, asyncTaskID string) (JobStatus, error)
	Download(ctx context.Context, artifactURL, dest string) (string, error)
}

// RemoteError is a definitive error response from the API: a rejected
// submission, a missing or expired job, or a server-side job failure.
type RemoteError struct {
	Code       string
	Message    string
	HTTPStatus int
}

func (e *RemoteError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("dashscope: %s [%s] (http %d)", e.Message, e.Code, e.HTTPStatus)
	}
	return fmt.Sprintf("dashscope: %s (http %d)", e.Message, e.HTTPStatus)
}

// DownloadError wraps a failed artifact download. Downloads are never
// retried: a partial file is worse than a failed task.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string { return fmt.Sprintf("download %s: %v", e.URL, e.Err) }
func (e *DownloadError) Unwrap() error { return e.Err }

// DashScopeClient talks to the DashScope generative-media API. It is
// stateless apart from its configuration and safe for concurrent use.
type DashScopeClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     *logrus.Entry
}

// NewDashScopeClient builds a client from explicit configuration. No global
// settings are consulted.
func NewDashScopeClient(cfg *Config) *DashScopeClient {
	return &DashScopeClient{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http:    &http.Client{Timeout: cfg.HTTPTimeout()},
		log:     logrus.WithField("component", "dashscope"),
	}
}

// Submit sends the job to the endpoint for its kind and returns the remote
// task id. A non-2xx response comes back as a *RemoteError.
func (c *DashScopeClient) Submit(ctx context.Context, spec JobSpec) (string, error) {
	var (
		endpoint string
		payload  map[string]any
		err      error
	)
	switch spec.Kind {
	case JobImageToVideo:
		endpoint, payload, err = c.imageToVideoRequest(spec)
	case JobTextToImage:
		endpoint, payload = textToImageRequest(spec)
	case JobImageEdit:
		endpoint, payload, err = c.imageEditRequest(spec)
	case JobKeyframeVideo:
		endpoint, payload, err = c.keyframeRequest(spec)
	case JobReferenceVideo:
		endpoint, payload, err = c.referenceVideoRequest(ctx, spec)
	default:
		return "", fmt.Errorf("unknown job kind %q", spec.Kind)
	}
	if err != nil {
		return "", err
	}

	resp, err := c.postJSON(ctx, c.baseURL+endpoint, payload)
	if err != nil {
		return "", err
	}
	if resp.Output.TaskID == "" {
		return "", &RemoteError{Message: "submission accepted without a task id", HTTPStatus: http.StatusOK}
	}
	c.log.WithFields(logrus.Fields{"kind": spec.Kind, "model": spec.Model, "remote_task": resp.Output.TaskID}).Info("job submitted")
	return resp.Output.TaskID, nil
}

func (c *DashScopeClient) imageToVideoRequest(spec JobSpec) (string, map[string]any, error) {
	if len(spec.InputFiles) != 1 {
		return "", nil, fmt.Errorf("image-to-video needs exactly one input image, got %d", len(spec.InputFiles))
	}
	imgURL, err := dataImageURL(spec.InputFiles[0])
	if err != nil {
		return "", nil, err
	}

	input := map[string]any{
		"prompt":  spec.Prompt,
		"img_url": imgURL,
	}
	if spec.NegativePrompt != "" {
		input["negative_prompt"] = spec.NegativePrompt
	}
	params := map[string]any{
		"resolution":    spec.Resolution,
		"prompt_extend": spec.PromptExtend,
		"duration":      durationOrDefault(spec.Duration),
	}
	// Shot type is only honored by the 2.6 models, and only with prompt
	// rewriting enabled.
	if spec.ShotType != "" && spec.PromptExtend {
		params["shot_type"] = spec.ShotType
	}
	return "/services/aigc/video-generation/video-synthesis", map[string]any{
		"model":      spec.Model,
		"input":      input,
		"parameters": params,
	}, nil
}

func textToImageRequest(spec JobSpec) (string, map[string]any) {
	input := map[string]any{"prompt": spec.Prompt}
	params := map[string]any{
		"size":          spec.Size,
		"n":             countOrDefault(spec.N),
		"prompt_extend": spec.PromptExtend,
	}
	// The wan and qwen model families disagree on where negative_prompt
	// lives, and only qwen takes a watermark switch.
	if strings.HasPrefix(spec.Model, "wan") {
		if spec.NegativePrompt != "" {
			input["negative_prompt"] = spec.NegativePrompt
		}
	} else {
		params["watermark"] = false
		if spec.NegativePrompt != "" {
			params["negative_prompt"] = spec.NegativePrompt
		}
	}
	if spec.Seed != 0 {
		params["seed"] = spec.Seed
	}
	return "/services/aigc/text2image/image-synthesis", map[string]any{
		"model":      spec.Model,
		"input":      input,
		"parameters": params,
	}
}

func (c *DashScopeClient) imageEditRequest(spec JobSpec) (string, map[string]any, error) {
	if len(spec.InputFiles) == 0 {
		return "", nil, fmt.Errorf("image edit needs at least one input image")
	}
	imageURLs := make([]string, 0, len(spec.InputFiles))
	for _, p := range spec.InputFiles {
		u, err := dataImageURL(p)
		if err != nil {
			return "", nil, err
		}
		imageURLs = append(imageURLs, u)
	}

	switch {
	case spec.Model == "wan2.6-image":
		// 2.6 takes a chat-style messages payload on its own endpoint.
		content := []map[string]any{{"text": spec.Prompt}}
		for _, u := range imageURLs {
			content = append(content, map[string]any{"image": u})
		}
		return "/services/aigc/image-generation/generation", map[string]any{
			"model": spec.Model,
			"input": map[string]any{
				"messages": []map[string]any{{"role": "user", "content": content}},
			},
			"parameters": map[string]any{
				"n":             countOrDefault(spec.N),
				"prompt_extend": spec.PromptExtend,
				"watermark":     false,
				"size":          sizeOrDefault(spec.Size),
			},
		}, nil
	case strings.HasPrefix(spec.Model, "wan2."):
		return "/services/aigc/image2image/image-synthesis", map[string]any{
			"model": spec.Model,
			"input": map[string]any{
				"prompt": spec.Prompt,
				"images": imageURLs,
			},
			"parameters": map[string]any{
				"n":             countOrDefault(spec.N),
				"prompt_extend": spec.PromptExtend,
			},
		}, nil
	default:
		// qwen edit models take the multimodal content-list format.
		content := make([]map[string]any, 0, len(imageURLs)+1)
		for _, u := range imageURLs {
			content = append(content, map[string]any{"image": u})
		}
		content = append(content, map[string]any{"text": spec.Prompt})
		negative := spec.NegativePrompt
		if negative == "" {
			negative = " "
		}
		return "/services/aigc/multimodal-generation/generation", map[string]any{
			"model": spec.Model,
			"input": map[string]any{
				"messages": []map[string]any{{"role": "user", "content": content}},
			},
			"parameters": map[string]any{
				"n":               countOrDefault(spec.N),
				"negative_prompt": negative,
				"prompt_extend":   spec.PromptExtend,
				"watermark":       false,
			},
		}, nil
	}
}

func (c *DashScopeClient) keyframeRequest(spec JobSpec) (string, map[string]any, error) {
	if len(spec.InputFiles) != 2 {
		return "", nil, fmt.Errorf("keyframe interpolation needs a first and last frame, got %d files", len(spec.InputFiles))
	}
	first, err := dataImageURL(spec.InputFiles[0])
	if err != nil {
		return "", nil, err
	}
	last, err := dataImageURL(spec.InputFiles[1])
	if err != nil {
		return "", nil, err
	}
	return "/services/aigc/image2video/video-synthesis", map[string]any{
		"model": spec.Model,
		"input": map[string]any{
			"first_frame_url": first,
			"last_frame_url":  last,
			"prompt":          spec.Prompt,
		},
		"parameters": map[string]any{
			"resolution":    spec.Resolution,
			"prompt_extend": spec.PromptExtend,
		},
	}, nil
}

func (c *DashScopeClient) referenceVideoRequest(ctx context.Context, spec JobSpec) (string, map[string]any, error) {
	if len(spec.InputFiles) == 0 {
		return "", nil, fmt.Errorf("reference-video synthesis needs at least one reference video")
	}
	// Reference videos are too large for inline data URLs; they go through
	// the upload endpoint first.
	refURLs := make([]string, 0, len(spec.InputFiles))
	for _, p := range spec.InputFiles {
		u, err := c.Upload(ctx, p, spec.Model)
		if err != nil {
			return "", nil, err
		}
		refURLs = append(refURLs, u)
	}

	input := map[string]any{
		"prompt":         spec.Prompt,
		"ref_video_urls": refURLs,
	}
	if spec.NegativePrompt != "" {
		input["negative_prompt"] = spec.NegativePrompt
	}
	params := map[string]any{
		"size":     sizeOrDefault(spec.Size),
		"duration": durationOrDefault(spec.Duration),
		"audio":    spec.Audio,
	}
	if spec.ShotType != "" {
		params["shot_type"] = spec.ShotType
	}
	return "/services/aigc/video-generation/video-synthesis", map[string]any{
		"model":      spec.Model,
		"input":      input,
		"parameters": params,
	}, nil
}

type apiResponse struct {
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		VideoURL   string `json:"video_url"`
		Message    string `json:"message"`
		Code       string `json:"code"`
		Results    []struct {
			URL string `json:"url"`
		} `json:"results"`
	} `json:"output"`
}

// Query fetches the remote status of one job. A 404 means the job is gone
// or expired and surfaces as a *RemoteError, as does any non-2xx response.
func (c *DashScopeClient) Query(ctx context.Context, asyncTaskID string) (JobStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+url.PathEscape(asyncTaskID), nil)
	if err != nil {
		return JobStatus{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return JobStatus{}, fmt.Errorf("query task %s: %w", asyncTaskID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return JobStatus{}, &RemoteError{Code: "TaskNotFound", Message: "task not found or expired", HTTPStatus: resp.StatusCode}
	}
	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		return JobStatus{}, fmt.Errorf("query task %s: decode response: %w", asyncTaskID, err)
	}
	if resp.StatusCode != http.StatusOK {
		return JobStatus{}, remoteErrorFrom(&body, resp.StatusCode)
	}
	if body.Output.TaskStatus == "UNKNOWN" {
		return JobStatus{}, &RemoteError{Code: "TaskExpired", Message: "task status unknown, query window expired", HTTPStatus: resp.StatusCode}
	}

	artifact := body.Output.VideoURL
	if artifact == "" && len(body.Output.Results) > 0 {
		artifact = body.Output.Results[0].URL
	}
	return JobStatus{
		Status:      Status(body.Output.TaskStatus),
		ArtifactURL: artifact,
		Message:     body.Output.Message,
		Code:        body.Output.Code,
	}, nil
}

// Download streams the artifact at artifactURL to dest. If dest is an
// existing directory a timestamped file name is generated inside it; the
// full path actually written is returned either way.
func (c *DashScopeClient) Download(ctx context.Context, artifactURL, dest string) (string, error) {
	full := dest
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		full = filepath.Join(dest, fmt.Sprintf("video_%d%s", time.Now().UnixMilli(), artifactExt(artifactURL)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, artifactURL, nil)
	if err != nil {
		return "", &DownloadError{URL: artifactURL, Err: err}
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return "", &DownloadError{URL: artifactURL, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", &DownloadError{URL: artifactURL, Err: fmt.Errorf("http %d", resp.StatusCode)}
	}

	f, err := os.Create(full)
	if err != nil {
		return "", &DownloadError{URL: artifactURL, Err: err}
	}
	defer f.Close()
	if _, err := io.Copy(f, resp.Body); err != nil {
		os.Remove(full)
		return "", &DownloadError{URL: artifactURL, Err: err}
	}
	c.log.WithFields(logrus.Fields{"url": artifactURL, "path": full}).Info("artifact downloaded")
	return full, nil
}

// Upload pushes a local file into the staging storage DashScope fronts and
// returns the oss:// URL a submission can reference. The flow is two steps:
// fetch an upload policy for the model, then post the file to the policy's
// endpoint.
func (c *DashScopeClient) Upload(ctx context.Context, localPath, model string) (string, error) {
	policy, err := c.uploadPolicy(ctx, model)
	if err != nil {
		return "", err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	defer f.Close()

	key := policy.UploadDir + "/" + filepath.Base(localPath)
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fields := map[string]string{
		"OSSAccessKeyId":         policy.AccessID,
		"Signature":              policy.Signature,
		"policy":                 policy.Policy,
		"key":                    key,
		"x-oss-object-acl":       policy.ACL,
		"x-oss-forbid-overwrite": "true",
		"success_action_status":  "200",
	}
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			return "", fmt.Errorf("upload %s: %w", localPath, err)
		}
	}
	part, err := w.CreateFormFile("file", filepath.Base(localPath))
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, policy.Host, &buf)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())
	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("upload %s: http %d", localPath, resp.StatusCode)
	}
	return "oss://" + key, nil
}

type uploadPolicy struct {
	Policy    string `json:"policy"`
	Signature string `json:"signature"`
	UploadDir string `json:"upload_dir"`
	Host      string `json:"upload_host"`
	AccessID  string `json:"oss_access_key_id"`
	ACL       string `json:"x_oss_object_acl"`
}

func (c *DashScopeClient) uploadPolicy(ctx context.Context, model string) (*uploadPolicy, error) {
	u := c.baseURL + "/uploads?action=getPolicy&model=" + url.QueryEscape(model)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch upload policy: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		var body apiResponse
		_ = json.NewDecoder(resp.Body).Decode(&body)
		return nil, remoteErrorFrom(&body, resp.StatusCode)
	}

	var body struct {
		Data uploadPolicy `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("fetch upload policy: decode response: %w", err)
	}
	return &body.Data, nil
}

func (c *DashScopeClient) postJSON(ctx context.Context, endpoint string, payload map[string]any) (*apiResponse, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("X-DashScope-Async", "enable")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", endpoint, err)
	}
	defer resp.Body.Close()

	var body apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil && resp.StatusCode == http.StatusOK {
		return nil, fmt.Errorf("post %s: decode response: %w", endpoint, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, remoteErrorFrom(&body, resp.StatusCode)
	}
	return &body, nil
}

func remoteErrorFrom(body *apiResponse, httpStatus int) *RemoteError {
	msg := body.Message
	if msg == "" {
		msg = "request failed"
	}
	return &RemoteError{Code: body.Code, Message: msg, HTTPStatus: httpStatus}
}

// dataImageURL inlines a local image as a base64 data URL, sniffing the
// MIME type from the file contents rather than trusting the extension.
func dataImageURL(path string) (string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read image %s: %w", path, err)
	}
	return fmt.Sprintf("data:%s;base64,%s", mtype.String(), base64.StdEncoding.EncodeToString(data)), nil
}

// artifactExt guesses the artifact's file extension from its URL, falling
// back to .mp4 since video is the dominant output.
func artifactExt(artifactURL string) string {
	if u, err := url.Parse(artifactURL); err == nil {
		if ext := path.Ext(u.Path); ext != "" {
			return ext
		}
	}
	return ".mp4"
}

func durationOrDefault(d int) int {
	if d <= 0 {
		return 5
	}
	return d
}

func countOrDefault(n int) int {
	if n <= 0 {
		return 1
	}
	return n
}

func sizeOrDefault(size string) string {
	if size == "" {
		return "1280*1280"
	}
	return size
}
