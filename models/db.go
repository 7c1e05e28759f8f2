package models

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"log"
	"strings"
	"time"

	"comic-studio-server/config"

	_ "github.com/go-sql-driver/mysql"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

var DB *sql.DB
var GormDB *gorm.DB

func InitDB() {
	if config.AppConfig == nil {
		log.Fatal("config.AppConfig is nil, call config.InitConfig first")
	}
	dsn := config.AppConfig.MySQL.DSN
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		log.Fatalf("打开数据库失败: %v", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(time.Hour)

	if err := db.Ping(); err != nil {
		log.Fatalf("连接数据库失败: %v", err)
	}

	DB = db
	GormDB, err = gorm.Open(mysql.New(mysql.Config{
		Conn: DB,
	}), &gorm.Config{})
	if err != nil {
		log.Fatalf("GORM 初始化失败: %v", err)
	}

	log.Println("数据库连接成功 (Native SQL + GORM)")

	// 自动建表（读取 doc/sql/comic_studio.sql）
	b, err := ioutil.ReadFile("doc/sql/comic_studio.sql")
	if err != nil {
		log.Printf("读取 SQL 文件失败（跳过建表）: %v", err)
		return
	}
	sqls := strings.Split(string(b), ";")
	for _, s := range sqls {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if _, err := DB.Exec(s); err != nil {
			log.Printf("执行建表语句失败: %v ; sql: %s", err, s)
		}
	}
}

const projectColumns = `id, title, original_text, characters, scenes, props, frames, style_preset, style_prompt, art_direction, model_settings, merged_video_url, status, created_at, updated_at`

// Project CRUD
func CreateProject(p *Project) error {
	now := time.Now().Unix()
	if p.CreatedAt == 0 {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	_, err := DB.Exec(
		`INSERT INTO project (`+projectColumns+`)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Title, p.OriginalText, p.Characters, p.Scenes, p.Props, p.Frames,
		p.StylePreset, p.StylePrompt, p.ArtDirection, p.ModelSettings,
		p.MergedVideoUrl, p.Status, p.CreatedAt, p.UpdatedAt,
	)
	return err
}

func scanProject(row *sql.Row) (Project, error) {
	var p Project
	var artBytes []byte
	var stylePrompt, mergedVideoUrl sql.NullString
	if err := row.Scan(&p.ID, &p.Title, &p.OriginalText, &p.Characters, &p.Scenes, &p.Props, &p.Frames,
		&p.StylePreset, &stylePrompt, &artBytes, &p.ModelSettings,
		&mergedVideoUrl, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return p, err
	}
	p.StylePrompt = stylePrompt.String
	p.MergedVideoUrl = mergedVideoUrl.String
	if len(artBytes) > 0 {
		_ = json.Unmarshal(artBytes, &p.ArtDirection)
	}
	return p, nil
}

func GetProjectByID(id string) (Project, error) {
	row := DB.QueryRow(`SELECT `+projectColumns+` FROM project WHERE id = ?`, id)
	return scanProject(row)
}

func ListProjects() ([]Project, error) {
	rows, err := DB.Query(`SELECT ` + projectColumns + ` FROM project ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []Project{}
	for rows.Next() {
		var p Project
		var artBytes []byte
		var stylePrompt, mergedVideoUrl sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.OriginalText, &p.Characters, &p.Scenes, &p.Props, &p.Frames,
			&p.StylePreset, &stylePrompt, &artBytes, &p.ModelSettings,
			&mergedVideoUrl, &p.Status, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, err
		}
		p.StylePrompt = stylePrompt.String
		p.MergedVideoUrl = mergedVideoUrl.String
		if len(artBytes) > 0 {
			_ = json.Unmarshal(artBytes, &p.ArtDirection)
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

// UpdateProjectMeta 只更新标题/原文这类行级标量字段
func UpdateProjectMeta(id string, title, originalText string) error {
	// 动态构建更新字段，只更新非空值
	sets := []string{}
	args := []interface{}{}
	if title != "" {
		sets = append(sets, "title = ?")
		args = append(args, title)
	}
	if originalText != "" {
		sets = append(sets, "original_text = ?")
		args = append(args, originalText)
	}
	if len(sets) == 0 {
		// 无需更新
		return nil
	}
	query := fmt.Sprintf("UPDATE project SET %s, updated_at = ? WHERE id = ?", strings.Join(sets, ", "))
	args = append(args, time.Now().Unix(), id)
	_, err := DB.Exec(query, args...)
	return err
}

// DeleteProjectByID 项目与其名下的视频任务一并删除
func DeleteProjectByID(id string) error {
	if _, err := DB.Exec(`DELETE FROM video_task WHERE project_id = ?`, id); err != nil {
		return err
	}
	_, err := DB.Exec(`DELETE FROM project WHERE id = ?`, id)
	return err
}

// MutateProject 项目文档的唯一写入口: 行锁内读出 -> 应用变更 -> 整行写回
// 并发的局部更新靠这里串行化, 避免互相覆盖
func MutateProject(id string, mutate func(*Project) error) (*Project, error) {
	var out *Project
	err := GormDB.Transaction(func(tx *gorm.DB) error {
		var p Project
		if err := tx.Raw(`SELECT `+projectColumns+` FROM project WHERE id = ? FOR UPDATE`, id).Scan(&p).Error; err != nil {
			return err
		}
		if p.ID == "" {
			return gorm.ErrRecordNotFound
		}
		if err := mutate(&p); err != nil {
			return err
		}
		p.UpdatedAt = time.Now().Unix()
		if err := tx.Save(&p).Error; err != nil {
			return err
		}
		out = &p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// AttachVideoTasks 把视频任务表的数据拼装进项目响应
func AttachVideoTasks(p *Project) error {
	tasks, err := ListVideoTasks(GormDB, p.ID, "")
	if err != nil {
		return err
	}
	p.VideoTasks = tasks
	return nil
}
