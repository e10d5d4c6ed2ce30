// Copyright 2024 The Tabletserver Authors. All rights reserved. Use of this
// source code is governed by a BSD-style license that can be found in the
// LICENSE file.

package vfs

import (
	"bufio"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
)

// CloudOptions configures an S3-backed FS, adapted from the teacher's
// cloud/aws.CloudFsOption.
type CloudOptions struct {
	// Bucket is the S3 bucket backing this DFS namespace.
	Bucket string
	// BasePath is prefixed to every object key.
	BasePath string
	// Region is the AWS region the bucket lives in.
	Region string
}

// s3Helper is the narrow surface CloudFS/CloudFile need from S3, mirroring
// the teacher's cloud/common.S3Helper interface (split out so tests can
// substitute a fake without standing up real AWS credentials).
type s3Helper interface {
	upload(key string, body io.Reader) error
	delete(key string) error
}

type s3HelperImpl struct {
	bucket   string
	uploader *s3manager.Uploader
	client   *s3.S3
}

func newS3Helper(opts CloudOptions) *s3HelperImpl {
	sess, _ := session.NewSession(&aws.Config{Region: aws.String(opts.Region)})
	return &s3HelperImpl{
		bucket:   opts.Bucket,
		uploader: s3manager.NewUploader(sess),
		client:   s3.New(sess),
	}
}

func (h *s3HelperImpl) upload(key string, body io.Reader) error {
	_, err := h.uploader.Upload(&s3manager.UploadInput{
		Body:   body,
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (h *s3HelperImpl) delete(key string) error {
	_, err := h.client.DeleteObject(&s3.DeleteObjectInput{
		Bucket: aws.String(h.bucket),
		Key:    aws.String(key),
	})
	return err
}

// skipUpload mirrors the teacher's cloud/aws.SkipS3Upload: WAL segments and
// scratch temp files are never worth shipping to the mirror, only
// MANIFEST/CURRENT/SSTable files are.
func skipUpload(name string) bool {
	return strings.HasSuffix(name, ".log") || strings.HasSuffix(name, ".dbtmp")
}

// CloudFS wraps a local FS (normally Default, the scratch-space directory
// used to stage writes) and mirrors every Create/Rename/Sync of a durable
// file (SSTable, MANIFEST, CURRENT) to an S3 bucket, the DFS façade of
// spec §4/C1. It is a direct generalization of the teacher's
// cloud/aws.CloudFS, adapted onto the locally-defined FS interface.
type CloudFS struct {
	wrapped FS
	opts    CloudOptions
	helper  s3Helper
}

// NewCloudFS wraps fs so writes are mirrored to S3 under opts.BasePath.
func NewCloudFS(fs FS, opts CloudOptions) FS {
	return &CloudFS{wrapped: fs, opts: opts, helper: newS3Helper(opts)}
}

func (c *CloudFS) key(name string) string { return c.opts.BasePath + "/" + name }

func (c *CloudFS) Create(name string) (File, error) {
	f, err := c.wrapped.Create(name)
	if err != nil {
		return nil, err
	}
	return &cloudFile{File: f, fs: c, name: name}, nil
}

func (c *CloudFS) Open(name string, opts ...OpenOption) (File, error) {
	return c.wrapped.Open(name, opts...)
}
func (c *CloudFS) OpenDir(name string) (File, error) { return c.wrapped.OpenDir(name) }

func (c *CloudFS) Remove(name string) error {
	_ = c.helper.delete(c.key(name))
	return c.wrapped.Remove(name)
}

func (c *CloudFS) RemoveAll(name string) error { return c.wrapped.RemoveAll(name) }

func (c *CloudFS) Rename(oldname, newname string) error {
	if err := c.wrapped.Rename(oldname, newname); err != nil {
		return err
	}
	if f, err := c.wrapped.Open(newname); err == nil {
		defer f.Close()
		if !skipUpload(newname) {
			_ = c.helper.upload(c.key(newname), bufio.NewReader(f))
		}
	}
	return nil
}

func (c *CloudFS) MkdirAll(dir string, perm os.FileMode) error { return c.wrapped.MkdirAll(dir, perm) }
func (c *CloudFS) Lock(name string) (io.Closer, error)         { return c.wrapped.Lock(name) }
func (c *CloudFS) List(dir string) ([]string, error)           { return c.wrapped.List(dir) }
func (c *CloudFS) Stat(name string) (os.FileInfo, error)       { return c.wrapped.Stat(name) }
func (c *CloudFS) PathBase(path string) string                 { return c.wrapped.PathBase(path) }
func (c *CloudFS) PathJoin(elem ...string) string              { return c.wrapped.PathJoin(elem...) }
func (c *CloudFS) PathDir(path string) string                  { return c.wrapped.PathDir(path) }

// cloudFile mirrors the teacher's cloud/aws.CloudFile: Sync()/Close() on a
// MANIFEST/CURRENT/SSTable file pushes its current contents to S3, giving
// the remote DFS durability semantics on top of local scratch storage.
type cloudFile struct {
	File
	fs   *CloudFS
	name string
}

func (f *cloudFile) push() {
	if skipUpload(f.name) {
		return
	}
	// Re-open for a consistent read of everything written so far; the
	// in-flight File handle's position may not be at offset 0.
	if r, err := f.fs.wrapped.Open(f.name); err == nil {
		defer r.Close()
		_ = f.fs.helper.upload(f.fs.key(f.name), bufio.NewReader(r))
	}
}

func (f *cloudFile) Sync() error {
	err := f.File.Sync()
	f.push()
	return err
}

func (f *cloudFile) Close() error {
	err := f.File.Close()
	f.push()
	return err
}
