// 变更说明：实现 QuickFIX 风格 XML 数据字典加载与缓存，未知 tag 返回 UNKNOWN 哨兵而非报错。
package domain

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// UnknownName 字典中不存在的 tag 或消息类型的哨兵名称。
// 对抗性测试中自定义 tag 属于预期输入，查询永远不失败。
const UnknownName = "UNKNOWN"

// FieldDef 字段定义
type FieldDef struct {
	Name string
	Type string
}

// VersionSpec 某个 BeginString 对应的只读数据字典。
// 加载后不再变更，可被多个调用方并发共享。
type VersionSpec struct {
	BeginString   string
	tagToField    map[int]FieldDef
	msgTypeToName map[string]string
}

// ResolveField 返回 tag 的名称与类型，未知 tag 返回 UNKNOWN 哨兵
func (s *VersionSpec) ResolveField(tag int) FieldDef {
	if def, ok := s.tagToField[tag]; ok {
		return def
	}
	return FieldDef{Name: UnknownName, Type: UnknownName}
}

// ResolveMsgType 返回消息类型代码的名称，未知代码返回 UNKNOWN
func (s *VersionSpec) ResolveMsgType(code string) string {
	if name, ok := s.msgTypeToName[code]; ok {
		return name
	}
	return UnknownName
}

// FieldCount 字典中的字段定义数量
func (s *VersionSpec) FieldCount() int {
	return len(s.tagToField)
}

// specFile QuickFIX XML 字典的文档结构
type specFile struct {
	XMLName xml.Name `xml:"fix"`
	Fields  struct {
		Field []struct {
			Number int    `xml:"number,attr"`
			Name   string `xml:"name,attr"`
			Type   string `xml:"type,attr"`
			Values []struct {
				Enum        string `xml:"enum,attr"`
				Description string `xml:"description,attr"`
			} `xml:"value"`
		} `xml:"field"`
	} `xml:"fields"`
}

// DictionaryResolver 按 BeginString 加载并缓存数据字典。
// 字典是随工具分发的静态参考数据，进程生命周期内不需要重载。
type DictionaryResolver struct {
	specDir string
	mu      sync.RWMutex
	cache   map[string]*VersionSpec
}

// NewDictionaryResolver 创建字典解析器
func NewDictionaryResolver(specDir string) *DictionaryResolver {
	return &DictionaryResolver{
		specDir: specDir,
		cache:   make(map[string]*VersionSpec),
	}
}

// Resolve 返回 BeginString 对应的字典，首次访问时从磁盘加载。
// 找不到匹配文件时返回 ErrSpecNotFound，由调用方上报；
// 原始收发不依赖字典，该错误只影响字段名展示。
func (r *DictionaryResolver) Resolve(beginString string) (*VersionSpec, error) {
	r.mu.RLock()
	if spec, ok := r.cache[beginString]; ok {
		r.mu.RUnlock()
		return spec, nil
	}
	r.mu.RUnlock()

	spec, err := r.load(beginString)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.cache[beginString] = spec
	r.mu.Unlock()
	return spec, nil
}

// candidateFiles 候选文件名。FIXT.1.1 会话层之上优先尝试应用层字典，
// 再回退到 BeginString 本身推导的文件名。
func candidateFiles(beginString string) []string {
	if beginString == "FIXT.1.1" {
		return []string{"FIXT11.xml", "FIX50SP2.xml", "FIX50SP1.xml", "FIX50.xml"}
	}
	compact := strings.ReplaceAll(beginString, ".", "")
	return []string{compact + ".xml"}
}

// load 从字典目录加载并解析 XML
func (r *DictionaryResolver) load(beginString string) (*VersionSpec, error) {
	var path string
	for _, name := range candidateFiles(beginString) {
		candidate := filepath.Join(r.specDir, name)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
			break
		}
	}
	if path == "" {
		return nil, fmt.Errorf("begin string %q in %s: %w", beginString, r.specDir, ErrSpecNotFound)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read dictionary %s: %w", path, err)
	}

	var doc specFile
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse dictionary %s: %w", path, err)
	}

	spec := &VersionSpec{
		BeginString:   beginString,
		tagToField:    make(map[int]FieldDef, len(doc.Fields.Field)),
		msgTypeToName: make(map[string]string),
	}
	for _, f := range doc.Fields.Field {
		spec.tagToField[f.Number] = FieldDef{Name: f.Name, Type: f.Type}
		// MsgType 字段的枚举即消息类型代码到名称的映射
		if f.Number == TagMsgType {
			for _, v := range f.Values {
				spec.msgTypeToName[v.Enum] = v.Description
			}
		}
	}
	return spec, nil
}

// Describe 以字典渲染单个字段，用于消息展开展示
func (s *VersionSpec) Describe(f Field) string {
	if f.Opaque() {
		return fmt.Sprintf("<opaque> %q", f.Bytes())
	}
	def := s.ResolveField(f.Tag)
	return fmt.Sprintf("%s(%d)=%s [%s]", def.Name, f.Tag, f.Value, def.Type)
}
