package sqlinline

const QInsertBlueprint = `--sql 101656af-42bb-47dc-b261-e662e8f9b8f7
insert into blueprints (id, user_id, title, status, request_data, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, 'pending', $4::jsonb, now(), now())
returning created_at, updated_at;
`

const QResetBlueprintPending = `--sql 56343c1b-8fdc-4329-b419-47ccfd63e0ec
update blueprints
set status = 'pending',
    request_data = $2::jsonb,
    payload = null,
    provider = null,
    updated_at = now()
where id = $1::uuid;
`

const QSelectBlueprint = `--sql a751e57c-d8b0-4656-ae9a-37dea7df529d
select id::text, user_id, title, status, request_data, payload, coalesce(provider, ''), created_at, updated_at
from blueprints
where id = $1::uuid;
`

const QMarkBlueprintCompleted = `--sql 90f84139-61b7-4f13-9b93-c75ac3055d23
update blueprints
set status = 'completed',
    payload = $2::jsonb,
    provider = $3::text,
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QMarkBlueprintFailed = `--sql 5224783c-15dd-4188-b435-7781a1274ec9
update blueprints
set status = 'failed',
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QSelectOrphanedBlueprints = `--sql 78222eab-0293-429c-84c4-a259bbbd2a39
select b.id::text, b.user_id, b.title, b.status, b.request_data, b.payload, coalesce(b.provider, ''), b.created_at, b.updated_at
from blueprints b
where b.status = 'pending'
  and b.updated_at < $1::timestamptz
  and not exists (
      select 1 from generation_jobs j where j.blueprint_id = b.id
  )
order by b.updated_at asc
limit $2;
`
